package refstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Version pairs the library format version with the version of the data.
type Version struct {
	Lib  int `yaml:"lib" msgpack:"l"`
	Data int `yaml:"data" msgpack:"d"`
}

func (v Version) String() string {
	return strconv.Itoa(v.Lib) + "." + strconv.Itoa(v.Data)
}

// Reference identifies one logical lookup table across the cluster.
// References are values; two are interchangeable only when equal.
type Reference struct {
	Name    string  `yaml:"name" msgpack:"n"`
	Version Version `yaml:"version" msgpack:"v"`
}

func Ref(name string, lib, data int) Reference {
	return Reference{Name: name, Version: Version{lib, data}}
}

func (r Reference) IsZero() bool {
	return r == Reference{}
}

// String renders name@lib.data, the form carried in column metadata.
func (r Reference) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return r.Name + "@" + r.Version.String()
}

// ParseReference parses the output of Reference.String. The last '@'
// separates the name from the version, so names may contain '@'.
func ParseReference(s string) (Reference, error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 {
		return Reference{}, fmt.Errorf("invalid reference %q: missing @version", s)
	}
	name, ver := s[:i], s[i+1:]
	libStr, dataStr, ok := strings.Cut(ver, ".")
	if !ok {
		return Reference{}, fmt.Errorf("invalid reference %q: version must be lib.data", s)
	}
	lib, err := strconv.Atoi(libStr)
	if err != nil || lib < 0 {
		return Reference{}, fmt.Errorf("invalid reference %q: bad lib version", s)
	}
	data, err := strconv.Atoi(dataStr)
	if err != nil || data < 0 {
		return Reference{}, fmt.Errorf("invalid reference %q: bad data version", s)
	}
	return Ref(name, lib, data), nil
}

// Dir returns the canonical cluster subpath of the reference. It depends
// only on the reference. Names that need sanitizing get a hash suffix so
// that, say, "a/b" and "a_b" don't collide.
func (r Reference) Dir() string {
	clean, changed := sanitizeName(r.Name)
	dir := clean + "@" + r.Version.String()
	if changed {
		dir += fmt.Sprintf("-%016x", xxhash.Sum64String(r.Name))
	}
	return dir
}

func sanitizeName(name string) (string, bool) {
	if name == "" {
		return "_", true
	}
	var changed bool
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		case c == '.' && i > 0:
		default:
			b[i] = '_'
			changed = true
		}
	}
	return string(b), changed
}

func (r Reference) less(o Reference) bool {
	if r.Name != o.Name {
		return r.Name < o.Name
	}
	if r.Version.Lib != o.Version.Lib {
		return r.Version.Lib < o.Version.Lib
	}
	return r.Version.Data < o.Version.Data
}
