// Package deviceinfo collects the flat device metadata record attached to
// the realtime handshake. Collection is best effort: a field that cannot be
// determined is left empty rather than failing the handshake.
package deviceinfo

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/nuvola-ai/converse-go/internal/version"
	"github.com/nuvola-ai/converse-go/internal/wire"
	"github.com/nuvola-ai/converse-go/pkg/logger"
)

// Collect gathers device metadata for the handshake.
func Collect() wire.DeviceMetadata {
	meta := wire.DeviceMetadata{
		UserAgent: fmt.Sprintf("converse-go/%s (%s; %s)", version.Version(), runtime.GOOS, runtime.GOARCH),
		Platform:  runtime.GOOS,
		Online:    true,
	}

	if info, err := host.Info(); err == nil {
		if info.Platform != "" {
			meta.Platform = info.Platform
		}
		meta.OSVersion = info.PlatformVersion
	} else {
		logger.Debugf("deviceinfo: host info unavailable: %v", err)
	}

	if locale := detectLocale(); locale != "" {
		meta.Locale = locale
		meta.Languages = []string{locale}
		if base, _, found := strings.Cut(locale, "-"); found {
			meta.Languages = append(meta.Languages, base)
		}
	}
	meta.Timezone = detectTimezone()

	return meta
}

// detectLocale reads the POSIX locale environment, normalized to BCP 47 form
// ("en_US.UTF-8" becomes "en-US").
func detectLocale() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		raw := os.Getenv(name)
		if raw == "" || raw == "C" || raw == "POSIX" {
			continue
		}
		locale, _, _ := strings.Cut(raw, ".")
		locale = strings.ReplaceAll(locale, "_", "-")
		if locale != "" {
			return locale
		}
	}
	return ""
}

func detectTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	name, _ := time.Now().Zone()
	return name
}
