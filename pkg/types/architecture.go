package types

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrInvalidArchitecture indicates an architecture string not of the form "os-cpu".
var ErrInvalidArchitecture = errors.New("invalid architecture")

// OS identifies an operating system family. The order matters: every value
// up to and including OSPOSIX belongs to the POSIX family.
type OS int

// Operating systems.
const (
	OSAll OS = iota
	OSLinux
	OSSolaris
	OSFreeBSD
	OSMacOSX
	OSDarwin
	OSCygwin
	OSPOSIX
	OSWindows
	OSUnknown OS = 99
)

// Cpu identifies a processor architecture. i386 through x86_64 form an
// upward compatible chain.
type Cpu int

// Processor architectures.
const (
	CpuAll Cpu = iota
	CpuI386
	CpuI486
	CpuI586
	CpuI686
	CpuX64
	CpuPPC
	CpuPPC64
	CpuARMv6
	CpuARMv7
	CpuAArch64
	CpuSource
	CpuUnknown Cpu = 99
)

var osNames = map[OS]string{
	OSAll:     "*",
	OSLinux:   "Linux",
	OSSolaris: "Solaris",
	OSFreeBSD: "FreeBSD",
	OSMacOSX:  "MacOSX",
	OSDarwin:  "Darwin",
	OSCygwin:  "Cygwin",
	OSPOSIX:   "POSIX",
	OSWindows: "Windows",
	OSUnknown: "unknown",
}

var cpuNames = map[Cpu]string{
	CpuAll:     "*",
	CpuI386:    "i386",
	CpuI486:    "i486",
	CpuI586:    "i586",
	CpuI686:    "i686",
	CpuX64:     "x86_64",
	CpuPPC:     "ppc",
	CpuPPC64:   "ppc64",
	CpuARMv6:   "armv6l",
	CpuARMv7:   "armv7l",
	CpuAArch64: "aarch64",
	CpuSource:  "src",
	CpuUnknown: "unknown",
}

// ParseOS maps a case-sensitive OS name to its value; unrecognised names
// yield OSUnknown.
func ParseOS(s string) OS {
	for os, name := range osNames {
		if name == s {
			return os
		}
	}
	return OSUnknown
}

// ParseCpu maps a case-sensitive CPU name to its value; unrecognised names
// yield CpuUnknown.
func ParseCpu(s string) Cpu {
	for cpu, name := range cpuNames {
		if name == s {
			return cpu
		}
	}
	return CpuUnknown
}

func (o OS) String() string {
	if name, ok := osNames[o]; ok {
		return name
	}
	return osNames[OSUnknown]
}

func (c Cpu) String() string {
	if name, ok := cpuNames[c]; ok {
		return name
	}
	return cpuNames[CpuUnknown]
}

// Architecture is an (OS, Cpu) pair. The zero value is "*-*", which runs
// anywhere.
type Architecture struct {
	OS  OS
	Cpu Cpu
}

// ParseArchitecture parses "os-cpu". An empty string yields "*-*".
func ParseArchitecture(s string) (Architecture, error) {
	if s == "" {
		return Architecture{}, nil
	}
	osName, cpuName, ok := strings.Cut(s, "-")
	if !ok || strings.Contains(cpuName, "-") {
		return Architecture{}, fmt.Errorf("%w: %q", ErrInvalidArchitecture, s)
	}
	return Architecture{OS: ParseOS(osName), Cpu: ParseCpu(cpuName)}, nil
}

// CurrentArchitecture describes the running platform.
func CurrentArchitecture() Architecture {
	return Architecture{OS: goosToOS(runtime.GOOS), Cpu: goarchToCpu(runtime.GOARCH)}
}

func goosToOS(goos string) OS {
	switch goos {
	case "linux", "android":
		return OSLinux
	case "darwin", "ios":
		return OSMacOSX
	case "freebsd":
		return OSFreeBSD
	case "solaris", "illumos":
		return OSSolaris
	case "windows":
		return OSWindows
	case "netbsd", "openbsd", "dragonfly", "aix":
		return OSPOSIX
	default:
		return OSUnknown
	}
}

func goarchToCpu(goarch string) Cpu {
	switch goarch {
	case "386":
		return CpuI686
	case "amd64":
		return CpuX64
	case "ppc64", "ppc64le":
		return CpuPPC64
	case "arm":
		return CpuARMv7
	case "arm64":
		return CpuAArch64
	default:
		return CpuUnknown
	}
}

// IsCompatible reports whether an implementation built for a can run on
// the system architecture.
func (a Architecture) IsCompatible(system Architecture) bool {
	return osCompatible(a.OS, system.OS) && cpuCompatible(a.Cpu, system.Cpu)
}

// IsOSCompatible reports whether software for impl runs on system.
func IsOSCompatible(impl, system OS) bool { return osCompatible(impl, system) }

func osCompatible(impl, system OS) bool {
	switch {
	case impl == OSUnknown || system == OSUnknown:
		return false
	case impl == system || impl == OSAll || system == OSAll:
		return true
	case impl == OSWindows && system == OSCygwin:
		return true
	case impl == OSDarwin && system == OSMacOSX:
		return true
	case impl == OSPOSIX && system <= OSPOSIX:
		return true
	}
	return false
}

func cpuCompatible(impl, system Cpu) bool {
	switch {
	case impl == CpuUnknown || system == CpuUnknown:
		return false
	case impl == system || impl == CpuAll || system == CpuAll:
		return true
	case impl == CpuPPC && system == CpuPPC64:
		return true
	case impl == CpuARMv6 && system == CpuARMv7:
		return true
	case impl >= CpuI386 && impl <= CpuX64 && system >= impl && system <= CpuX64:
		return true
	}
	return false
}

// Effective replaces wildcards with the values of the running platform.
func (a Architecture) Effective() Architecture {
	current := CurrentArchitecture()
	if a.OS == OSAll {
		a.OS = current.OS
	}
	if a.Cpu == CpuAll {
		a.Cpu = current.Cpu
	}
	return a
}

func (a Architecture) String() string {
	return a.OS.String() + "-" + a.Cpu.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Architecture) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Architecture) UnmarshalText(text []byte) error {
	parsed, err := ParseArchitecture(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (o OS) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OS) UnmarshalText(text []byte) error {
	*o = ParseOS(string(text))
	return nil
}
