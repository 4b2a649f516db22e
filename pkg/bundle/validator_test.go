package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"testing"
)

// createTestBundle creates a tar.gz bundle with the specified files.
func createTestBundle(files map[string]string) []byte {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0600,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			panic(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			panic(err)
		}
	}

	tw.Close()
	gzw.Close()

	return buf.Bytes()
}

const minimalCluster = `
- type: cluster
  name: hadoop
  version: "1.0"
- type: service
  name: hdfs
  version: "3.1"
  components:
    namenode: {}
    datanode: {}
`

func TestValidate_ValidBundle(t *testing.T) {
	data := createTestBundle(map[string]string{
		DefinitionFile:        minimalCluster,
		"playbooks/main.yaml": "- hosts: all\n",
	})

	result := Validate(data)

	if !result.Valid {
		t.Fatalf("Expected valid bundle, got error: %v", result.Error)
	}
	if len(result.Files) != 2 {
		t.Errorf("Expected 2 files, got %d", len(result.Files))
	}
	if string(result.Definition) != minimalCluster {
		t.Errorf("Definition content was not captured")
	}
}

func TestValidate_AlternativeDefinitionName(t *testing.T) {
	result := Validate(createTestBundle(map[string]string{DefinitionFileAlt: minimalCluster}))

	if !result.Valid {
		t.Fatalf("Expected config.yml to be accepted, got error: %v", result.Error)
	}
}

func TestValidate_BundleTooLarge(t *testing.T) {
	result := Validate(make([]byte, MaxBundleSize+1))

	if result.Valid {
		t.Error("Expected invalid bundle due to size")
	}
	if !errors.Is(result.Error, ErrBundleTooLarge) {
		t.Errorf("Expected ErrBundleTooLarge, got %v", result.Error)
	}
}

func TestValidate_InvalidGzip(t *testing.T) {
	result := Validate([]byte("not a gzip file"))

	if result.Valid {
		t.Error("Expected invalid bundle due to format")
	}
	if !errors.Is(result.Error, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", result.Error)
	}
}

func TestValidate_EmptyBundle(t *testing.T) {
	result := Validate(createTestBundle(map[string]string{}))

	if result.Valid {
		t.Error("Expected invalid bundle due to no files")
	}
	if !errors.Is(result.Error, ErrEmptyBundle) {
		t.Errorf("Expected ErrEmptyBundle, got %v", result.Error)
	}
}

func TestValidate_MissingDefinition(t *testing.T) {
	result := Validate(createTestBundle(map[string]string{"README.md": "hello"}))

	if result.Valid {
		t.Error("Expected invalid bundle due to missing definition")
	}
	if !errors.Is(result.Error, ErrMissingDefinition) {
		t.Errorf("Expected ErrMissingDefinition, got %v", result.Error)
	}
}

func TestValidate_InvalidTarArchive(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	gzw.Write([]byte("not a tar archive but long enough to be read as a broken header block"))
	gzw.Close()

	result := Validate(buf.Bytes())

	if result.Valid {
		t.Error("Expected invalid bundle due to invalid tar")
	}
}

func TestLoad(t *testing.T) {
	def, err := Load(createTestBundle(map[string]string{DefinitionFile: minimalCluster}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if def.Root.Name != "hadoop" {
		t.Errorf("Expected root hadoop, got %s", def.Root.Name)
	}

	_, err = Load(createTestBundle(map[string]string{DefinitionFile: "- type: [broken"}))
	if !errors.Is(err, ErrInvalidYAML) {
		t.Errorf("Expected ErrInvalidYAML, got %v", err)
	}
}

func TestPack(t *testing.T) {
	data, err := Pack([]byte(minimalCluster))
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	def, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(def.Services) != 1 || def.Services[0].Name != "hdfs" {
		t.Errorf("Expected service hdfs, got %v", def.Services)
	}
}
