package subprocess

import "strings"

// SpawnFlags controls how a child process is created.
type SpawnFlags uint

const (
	// SpawnSearchPath resolves argv[0] through $PATH when it contains no path
	// separator. Without it argv[0] is used as a path as-is.
	SpawnSearchPath SpawnFlags = 1 << iota

	// SpawnStdoutToDevNull discards the child's stdout. Since stderr follows
	// stdout, stderr is discarded as well.
	SpawnStdoutToDevNull

	// SpawnStderrToDevNull discards the child's stderr instead of merging it
	// into stdout.
	SpawnStderrToDevNull

	// SpawnChildInheritsStdin connects the child's stdin to the host's stdin.
	// By default the child reads from the null device.
	SpawnChildInheritsStdin

	// SpawnFileAndArgvZero treats argv[0] as the file to execute and argv[1:]
	// as the child's complete argv, including its own argv[0].
	SpawnFileAndArgvZero

	spawnFlagsEnd
)

// SpawnDefault spawns without path search, with stderr merged into stdout and
// stdin from the null device.
const SpawnDefault SpawnFlags = 0

var spawnFlagNames = []string{
	"search-path",
	"stdout-to-dev-null",
	"stderr-to-dev-null",
	"child-inherits-stdin",
	"file-and-argv-zero",
}

// Has reports whether all bits of flag are set in f.
func (f SpawnFlags) Has(flag SpawnFlags) bool {
	return f&flag == flag
}

// Valid reports whether f contains only known flags.
func (f SpawnFlags) Valid() bool {
	return f < spawnFlagsEnd
}

func (f SpawnFlags) String() string {
	if f == SpawnDefault {
		return "default"
	}

	if !f.Valid() {
		return "invalid"
	}

	var names []string
	for i, name := range spawnFlagNames {
		if f.Has(1 << i) {
			names = append(names, name)
		}
	}

	return strings.Join(names, "|")
}
