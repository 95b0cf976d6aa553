package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Artifact is the compiled form of a plugin contract.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Code returns the decoded creation bytecode.
func (a Artifact) Code() []byte {
	return common.FromHex(a.Bytecode)
}

// CodeHash returns keccak256 of the creation bytecode.
func (a Artifact) CodeHash() common.Hash {
	return crypto.Keccak256Hash(a.Code())
}

// ArtifactSource resolves contract names to artifacts.
type ArtifactSource interface {
	Artifact(name string) (Artifact, error)
}

// DirSource reads hardhat artifacts ("<Name>.json") from a directory tree.
type DirSource struct {
	root  string
	mu    sync.Mutex
	cache map[string]Artifact
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir, cache: make(map[string]Artifact)}
}

// Artifact implements ArtifactSource.
func (d *DirSource) Artifact(name string) (Artifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.cache[name]; ok {
		return a, nil
	}
	path, err := d.find(name + ".json")
	if err != nil {
		return Artifact{}, err
	}
	a, err := LoadArtifact(path)
	if err != nil {
		return Artifact{}, err
	}
	d.cache[name] = a
	return a, nil
}

func (d *DirSource) find(file string) (string, error) {
	var found string
	err := filepath.WalkDir(d.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && entry.Name() == file {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search artifacts in %s: %w", d.root, err)
	}
	if found == "" {
		return "", fmt.Errorf("artifact %s not found under %s", file, d.root)
	}
	return found, nil
}

// LoadArtifact parses a hardhat artifact file.
func LoadArtifact(path string) (Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return Artifact{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if len(a.Code()) == 0 {
		return Artifact{}, fmt.Errorf("artifact %s has no bytecode", path)
	}
	return a, nil
}

// StaticSource serves artifacts from memory.
type StaticSource map[string]Artifact

// Artifact implements ArtifactSource.
func (s StaticSource) Artifact(name string) (Artifact, error) {
	a, ok := s[name]
	if !ok {
		return Artifact{}, fmt.Errorf("artifact %s not found", name)
	}
	return a, nil
}
