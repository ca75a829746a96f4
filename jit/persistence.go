package jit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/compiler/hash"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/optimizer"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Snapshot format
// ---------------------------------------------------------------------------

// A snapshot is a fixed header followed by a CBOR payload:
//
//	magic   [4]byte "AJIT"
//	version uint32 little endian
//	flags   uint32 little endian (bit 0: payload is gzip compressed)

var snapshotMagic = [4]byte{'A', 'J', 'I', 'T'}

const (
	snapshotVersion uint32 = 1
	flagCompressed  uint32 = 1 << 0
)

// ErrBadSnapshot is returned for data that is not a snapshot this version
// can read.
var ErrBadSnapshot = errors.New("jit: bad snapshot")

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

type snapshotPayload struct {
	Entries []snapshotEntry `cbor:"1,keyasint"`
}

type snapshotEntry struct {
	ID          []byte            `cbor:"1,keyasint"`
	Name        string            `cbor:"2,keyasint"`
	IRText      string            `cbor:"3,keyasint"`
	Module      []byte            `cbor:"4,keyasint"`
	Timestamp   int64             `cbor:"5,keyasint"`
	CompileTime int64             `cbor:"6,keyasint"`
	Report      *optimizer.Report `cbor:"7,keyasint,omitempty"`
	SourceHash  []byte            `cbor:"8,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// SaveSnapshot writes every cached function to w.
func (m *Manager) SaveSnapshot(w io.Writer) error {
	var payload snapshotPayload
	for _, cf := range m.cache.All() {
		mod, err := ir.MarshalModule(cf.Module)
		if err != nil {
			return fmt.Errorf("jit: snapshot %s: %w", cf.Name, err)
		}
		payload.Entries = append(payload.Entries, snapshotEntry{
			ID:          cf.ID[:],
			Name:        cf.Name,
			IRText:      cf.IRText,
			Module:      mod,
			Timestamp:   cf.Timestamp.UnixMicro(),
			CompileTime: int64(cf.CompileTime),
			Report:      cf.OptimizerReport,
			SourceHash:  cf.SourceHash[:],
		})
	}
	data, err := snapshotEncMode.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("jit: encode snapshot: %w", err)
	}

	var flags uint32
	if m.compress {
		flags |= flagCompressed
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("jit: compress snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("jit: compress snapshot: %w", err)
		}
		data = buf.Bytes()
	}

	header := make([]byte, 12)
	copy(header, snapshotMagic[:])
	binary.LittleEndian.PutUint32(header[4:], snapshotVersion)
	binary.LittleEndian.PutUint32(header[8:], flags)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveSnapshotFile writes a snapshot to path, creating parent directories.
func (m *Manager) SaveSnapshotFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := m.SaveSnapshot(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// LoadSnapshot reads a snapshot and puts its entries into the cache,
// replacing entries with the same name. It returns the number loaded.
func (m *Manager) LoadSnapshot(r io.Reader) (int, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("%w: short header: %v", ErrBadSnapshot, err)
	}
	if !bytes.Equal(header[:4], snapshotMagic[:]) {
		return 0, fmt.Errorf("%w: bad magic %q", ErrBadSnapshot, header[:4])
	}
	if v := binary.LittleEndian.Uint32(header[4:]); v != snapshotVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, v)
	}
	flags := binary.LittleEndian.Uint32(header[8:])

	body := r
	if flags&flagCompressed != 0 {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		defer gz.Close()
		body = gz
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	var payload snapshotPayload
	if err := cbor.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	// Decode everything before touching the cache so a corrupt snapshot
	// loads nothing.
	entries := make([]*CompiledFunction, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		mod, err := ir.UnmarshalModule(e.Module)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadSnapshot, e.Name, err)
		}
		id, err := uuid.FromBytes(e.ID)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadSnapshot, e.Name, err)
		}
		cf := &CompiledFunction{
			ID:              id,
			Name:            e.Name,
			IRText:          e.IRText,
			Module:          mod,
			Timestamp:       time.UnixMicro(e.Timestamp),
			CompileTime:     time.Duration(e.CompileTime),
			OptimizerReport: e.Report,
		}
		copy(cf.SourceHash[:], e.SourceHash)
		entries = append(entries, cf)
	}
	for _, cf := range entries {
		m.cache.Put(cf)
	}
	log.Infof("loaded %d compiled functions from snapshot", len(entries))
	return len(entries), nil
}

// LoadSnapshotFile reads a snapshot from path.
func (m *Manager) LoadSnapshotFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return m.LoadSnapshot(bufio.NewReader(f))
}

// DropStale removes cached functions whose source no longer matches decls:
// functions that were removed, or whose body or reachable helpers changed.
// It returns the number removed.
func (m *Manager) DropStale(decls []*compiler.FunctionDecl) int {
	current := make(map[string][32]byte, len(decls))
	for _, d := range decls {
		current[d.Name] = hash.Fingerprint(d, decls)
	}
	dropped := 0
	for _, cf := range m.cache.All() {
		if fp, ok := current[cf.Name]; ok && fp == cf.SourceHash {
			continue
		}
		m.cache.Remove(cf.Name)
		log.Debugf("dropped stale %s", cf.Name)
		dropped++
	}
	return dropped
}

// Restore generates and registers native code for every cached function.
// Functions that fail are reported together; the rest stay registered.
func (m *Manager) Restore(exec *native.Executor) (int, error) {
	var errs []error
	n := 0
	for _, cf := range m.cache.All() {
		if err := exec.Compile(cf.Name, cf.Module); err != nil {
			errs = append(errs, fmt.Errorf("jit: restore %s: %w", cf.Name, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
