package refstore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FormatVersion is bumped whenever the on-disk layout of a store changes.
const FormatVersion = 1

// DescriptorFile is the name of the descriptor next to a published or
// materialized payload. Its presence marks the directory as complete.
const DescriptorFile = "descriptor.yaml"

// Descriptor records how a store was built. A copy lives inside the store
// file; the cluster and every local replica also keep a YAML copy that
// additionally names the payload file and carries its size, checksum and
// transfer compression.
type Descriptor struct {
	Format        int         `yaml:"format" msgpack:"f"`
	Reference     Reference   `yaml:"reference" msgpack:"r"`
	KeyCount      int         `yaml:"key_count" msgpack:"n"`
	Duplicates    int         `yaml:"duplicates" msgpack:"dup"`
	Codec         Codec       `yaml:"codec" msgpack:"c"`
	CaseSensitive bool        `yaml:"case_sensitive" msgpack:"cs"`
	BuiltAt       time.Time   `yaml:"built_at" msgpack:"t"`
	Payload       string      `yaml:"payload,omitempty" msgpack:"-"`
	Size          int64       `yaml:"size,omitempty" msgpack:"-"`
	Checksum      string      `yaml:"checksum,omitempty" msgpack:"-"`
	Compression   Compression `yaml:"compression,omitempty" msgpack:"-"`
}

func (d *Descriptor) validate() error {
	if d.Format != FormatVersion {
		return fmt.Errorf("unsupported store format %d", d.Format)
	}
	if d.Reference.IsZero() {
		return fmt.Errorf("descriptor has no reference")
	}
	if err := d.Codec.check(); err != nil {
		return err
	}
	return nil
}

func (d *Descriptor) marshalYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

func parseDescriptorYAML(data []byte) (*Descriptor, error) {
	d := new(Descriptor)
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, dataErrf(data, 0, err, "invalid descriptor")
	}
	if err := d.validate(); err != nil {
		return nil, dataErrf(data, 0, err, "invalid descriptor")
	}
	return d, nil
}

func readDescriptorFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseDescriptorYAML(data)
}
