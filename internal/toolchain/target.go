package toolchain

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform is a Go build target.
type Platform struct {
	GOOS   string
	GOARCH string
}

// Host returns the platform the tool runs on.
func Host() Platform {
	return Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

// ParsePlatform parses "goos/goarch". The empty string is the host.
func ParsePlatform(s string) (Platform, error) {
	if strings.TrimSpace(s) == "" {
		return Host(), nil
	}
	goos, goarch, ok := strings.Cut(s, "/")
	if !ok || goos == "" || goarch == "" {
		return Platform{}, fmt.Errorf("invalid platform %q (want goos/goarch)", s)
	}
	return Platform{GOOS: goos, GOARCH: goarch}, nil
}

func (p Platform) String() string {
	return p.GOOS + "/" + p.GOARCH
}

// IsWasm reports whether the platform produces WebAssembly.
func (p Platform) IsWasm() bool {
	return p.GOARCH == "wasm"
}

var zigTargets = map[Platform]string{
	{"linux", "amd64"}:   "x86_64-linux-gnu",
	{"linux", "arm64"}:   "aarch64-linux-gnu",
	{"linux", "arm"}:     "arm-linux-gnueabihf",
	{"linux", "386"}:     "x86-linux-gnu",
	{"linux", "riscv64"}: "riscv64-linux-gnu",
	{"darwin", "amd64"}:  "x86_64-macos",
	{"darwin", "arm64"}:  "aarch64-macos",
	{"windows", "amd64"}: "x86_64-windows-gnu",
	{"windows", "386"}:   "x86-windows-gnu",
	{"windows", "arm64"}: "aarch64-windows-gnu",
	{"freebsd", "amd64"}: "x86_64-freebsd",
	{"wasip1", "wasm"}:   "wasm32-wasi",
	{"js", "wasm"}:       "wasm32-freestanding",
}

// ZigTarget maps a platform to a zig target triple. Unknown platforms
// build for the native target.
func ZigTarget(p Platform) string {
	if t, ok := zigTargets[p]; ok {
		return t
	}
	return "native"
}

// LibraryFile returns the artifact file name for a library, in the form
// the cgo -l flag looks up.
func LibraryFile(p Platform, lib string) string {
	if p.IsWasm() {
		return lib + ".wasm"
	}
	return "lib" + lib + ".a"
}
