package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

type procFS struct {
	readlink func(string) (string, error)
	readFile func(string) ([]byte, error)
}

var proc = procFS{os.Readlink, ioutil.ReadFile}

// AppName returns the name of the running executable. Under wine the
// executable is the preloader, so the process name set by wine is used
// instead.
func AppName() string {
	return proc.appName()
}

func (p procFS) appName() string {
	name := "unknown"
	if exe, err := p.readlink("/proc/self/exe"); err == nil {
		name = filepath.Base(exe)
	}
	if name == "wine-preloader" || name == "wine64-preloader" || name == "unknown" {
		if comm, err := p.readFile("/proc/self/comm"); err == nil {
			if c := strings.TrimSpace(string(comm)); c != "" {
				name = c
			}
		}
	}
	return name
}
