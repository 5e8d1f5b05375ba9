// Package torrent writes .torrent metainfo files for release sources.
package torrent

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// Options carries the metainfo fields written to every torrent.
type Options struct {
	Private     bool
	Comment     string
	CreatedBy   string
	Source      string
	PieceLength int64
}

// ProgressFunc receives hashing progress in percent. Values never decrease and
// 100 is reported exactly once, after the file has been written.
type ProgressFunc func(percent float64)

// Result describes a written torrent.
type Result struct {
	Path     string
	InfoHash string
}

// Builder hashes sourcePath and writes a torrent for the announce tiers to outPath.
type Builder interface {
	Build(ctx context.Context, sourcePath string, announce [][]string, outPath string, opts Options, onProgress ProgressFunc) (Result, error)
}

// MetainfoBuilder builds torrents with anacrolix/torrent.
type MetainfoBuilder struct {
	now func() time.Time
}

func NewMetainfoBuilder() *MetainfoBuilder {
	return &MetainfoBuilder{now: time.Now}
}

func (b *MetainfoBuilder) Build(ctx context.Context, sourcePath string, announce [][]string, outPath string, opts Options, onProgress ProgressFunc) (Result, error) {
	root := filepath.Clean(sourcePath)
	info, err := describe(root)
	if err != nil {
		return Result{}, err
	}
	private := opts.Private
	info.Private = &private
	info.Source = opts.Source

	total := info.TotalLength()
	info.PieceLength = opts.PieceLength
	if info.PieceLength <= 0 {
		info.PieceLength = choosePieceLength(total)
	}

	meter := newHashMeter(total, onProgress)
	err = info.GeneratePieces(func(fi metainfo.FileInfo) (io.ReadCloser, error) {
		p := root
		if len(fi.Path) > 0 {
			p = filepath.Join(root, filepath.Join(fi.Path...))
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		return &meteredFile{ctx: ctx, file: f, meter: meter}, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("hash pieces: %w", err)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return Result{}, fmt.Errorf("encode info: %w", err)
	}

	now := time.Now
	if b.now != nil {
		now = b.now
	}
	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		CreationDate: now().Unix(),
		Comment:      opts.Comment,
		CreatedBy:    opts.CreatedBy,
	}
	if len(announce) > 0 && len(announce[0]) > 0 {
		mi.Announce = announce[0][0]
		mi.AnnounceList = announce
	}

	if err := writeMetaInfo(outPath, mi); err != nil {
		return Result{}, err
	}
	meter.finish()

	return Result{Path: outPath, InfoHash: mi.HashInfoBytes().HexString()}, nil
}

var _ Builder = (*MetainfoBuilder)(nil)

func describe(root string) (metainfo.Info, error) {
	st, err := os.Stat(root)
	if err != nil {
		return metainfo.Info{}, fmt.Errorf("stat source: %w", err)
	}
	info := metainfo.Info{Name: filepath.Base(root)}
	if !st.IsDir() {
		info.Length = st.Size()
		return info, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info.Files = append(info.Files, metainfo.FileInfo{
			Length: fi.Size(),
			Path:   strings.Split(filepath.ToSlash(rel), "/"),
		})
		return nil
	})
	if err != nil {
		return metainfo.Info{}, fmt.Errorf("walk source: %w", err)
	}
	if len(info.Files) == 0 {
		return metainfo.Info{}, fmt.Errorf("source %s contains no files", root)
	}
	return info, nil
}

func writeMetaInfo(outPath string, mi metainfo.MetaInfo) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create torrent dir: %w", err)
	}
	tmp := outPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create torrent file: %w", err)
	}
	if err := mi.Write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write torrent: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close torrent: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("rename torrent: %w", err)
	}
	return nil
}

// choosePieceLength targets roughly 1500 pieces, within 16KiB..16MiB.
func choosePieceLength(total int64) int64 {
	const (
		minPiece = 16 << 10
		maxPiece = 16 << 20
	)
	piece := int64(minPiece)
	for piece < maxPiece && total/piece > 1500 {
		piece <<= 1
	}
	return piece
}

type hashMeter struct {
	mu       sync.Mutex
	total    int64
	done     int64
	reported int
	cb       ProgressFunc
}

func newHashMeter(total int64, cb ProgressFunc) *hashMeter {
	return &hashMeter{total: total, cb: cb, reported: -1}
}

func (m *hashMeter) add(n int) {
	if m.cb == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)
	if m.total <= 0 {
		return
	}
	pct := int(m.done * 100 / m.total)
	if pct > 99 {
		pct = 99
	}
	if pct > m.reported {
		m.reported = pct
		m.cb(float64(pct))
	}
}

func (m *hashMeter) finish() {
	if m.cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reported == 100 {
		return
	}
	m.reported = 100
	m.cb(100)
}

type meteredFile struct {
	ctx   context.Context
	file  *os.File
	meter *hashMeter
}

func (f *meteredFile) Read(p []byte) (int, error) {
	if err := f.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := f.file.Read(p)
	f.meter.add(n)
	return n, err
}

func (f *meteredFile) Close() error {
	return f.file.Close()
}
