package logging

import (
	"fmt"
	"os"
	"strings"
)

// Comma-separated "tag=level" directives. A directive without "tag=" sets the
// default level, e.g. PWCAPTURE_LOG=debug,capture=trace,wsview=warn.
const envVar = "PWCAPTURE_LOG"

type tagLevel struct {
	tag   string
	level Level
}

var tagLevels []tagLevel

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s: %s\n", envVar, err)
	}
}

// Configure parses level directives and applies them to DefaultLogger and the
// tagged loggers derived from it. Call it before logging starts.
func Configure(directives string) error {
	var firstErr error
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("directive '%s': %s", d, err)
			}
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			setTagLevel(v[0], level)
		}
	}

	DefaultLogger.Level = defaultLevel
	DefaultLogger.mu.Lock()
	for _, l := range derived {
		l.Level = determineLevel(l.Tag, defaultLevel)
	}
	DefaultLogger.mu.Unlock()
	return firstErr
}

func setTagLevel(tag string, level Level) {
	for i := range tagLevels {
		if tagLevels[i].tag == tag {
			tagLevels[i].level = level
			return
		}
	}
	tagLevels = append(tagLevels, tagLevel{tag, level})
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
