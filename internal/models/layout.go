// Package models locates the files of an exported GLiNER model on disk.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gliner/internal/config"
)

const (
	TokenizerFile = "tokenizer.json"
	ModelFile     = "model.onnx"
)

var ErrIncomplete = errors.New("model directory is incomplete")

// Layout is a resolved model directory. ModelConfig is empty when the
// export has no gliner_config.json.
type Layout struct {
	Dir            string
	Tokenizer      string
	Model          string
	ModelConfig    string
	TokenizerBytes int64
	ModelBytes     int64
}

// Resolve finds tokenizer.json and the weights under dir. The weights may sit
// next to the tokenizer, in an onnx/ subdirectory, or both may be nested one
// level down as unpacked archives usually are. modelFile defaults to
// model.onnx.
func Resolve(dir, modelFile string) (Layout, error) {
	if modelFile == "" {
		modelFile = ModelFile
	}
	dir = config.ExpandHome(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return Layout{}, err
	}
	if !info.IsDir() {
		return Layout{}, fmt.Errorf("%s is not a directory", dir)
	}

	candidates := []string{dir}
	entries, _ := os.ReadDir(dir)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() && e.Name() != "onnx" && !strings.HasPrefix(e.Name(), ".") {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}
	for _, c := range candidates {
		if l, ok := lookIn(c, modelFile); ok {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %s needs %s and %s", ErrIncomplete, dir, TokenizerFile, modelFile)
}

func lookIn(dir, modelFile string) (Layout, bool) {
	tok, ok := regularFile(filepath.Join(dir, TokenizerFile))
	if !ok {
		return Layout{}, false
	}
	for _, weights := range []string{filepath.Join(dir, modelFile), filepath.Join(dir, "onnx", modelFile)} {
		model, ok := regularFile(weights)
		if !ok {
			continue
		}
		l := Layout{
			Dir:            dir,
			Tokenizer:      filepath.Join(dir, TokenizerFile),
			Model:          weights,
			TokenizerBytes: tok.Size(),
			ModelBytes:     model.Size(),
		}
		for _, mc := range []string{config.ModelConfigPath(weights), filepath.Join(dir, config.ModelConfigFile)} {
			if _, ok := regularFile(mc); ok {
				l.ModelConfig = mc
				break
			}
		}
		return l, true
	}
	return Layout{}, false
}

func regularFile(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, true
}

// Checksum returns "sha256:<hex>" of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares the file digest with expected, which may omit the
// "sha256:" prefix.
func VerifyChecksum(path, expected string) error {
	got, err := Checksum(path)
	if err != nil {
		return err
	}
	want := strings.ToLower(strings.TrimSpace(expected))
	if !strings.HasPrefix(want, "sha256:") {
		want = "sha256:" + want
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s want %s", filepath.Base(path), got, want)
	}
	return nil
}
