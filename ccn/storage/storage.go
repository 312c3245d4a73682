// Package storage reads and writes the content-addressed blobs messages
// reference: inline-overflowed item content, store message payloads and
// off-chain sync archives. Blobs live in a flat local folder; IPFS content
// is fetched from (and pinned on) the configured daemon.
package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	ipfsfiles "github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

var log = logrus.WithField("prefix", "storage")

// Sentinel fetch outcomes. Unavailable content is worth retrying; invalid
// content never becomes valid.
var (
	ErrContentUnavailable = errors.New("storage: content unavailable")
	ErrInvalidContent     = errors.New("storage: invalid content")
)

// Config configures the storage service.
type Config struct {
	// Folder is the root of the local blob store.
	Folder string
	// IPFSAddr is the multiaddr-less host:port of the IPFS HTTP API, or
	// empty when the daemon is disabled.
	IPFSAddr string
	// PinTimeout bounds background pin requests.
	PinTimeout time.Duration
}

// FileInfo describes a stored blob without reading it.
type FileInfo struct {
	Type files.FileType
	Size int64
}

// Service is the content-addressed storage engine.
type Service struct {
	cfg   *Config
	ipfs  *shell.Shell
	cache *gocache.Cache
}

// New prepares the local folder and the IPFS client.
func New(cfg *Config) (*Service, error) {
	if err := os.MkdirAll(cfg.Folder, 0o750); err != nil {
		return nil, errors.Wrap(err, "could not create storage folder")
	}
	s := &Service{
		cfg:   cfg,
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
	if cfg.IPFSAddr != "" {
		s.ipfs = shell.NewShell(cfg.IPFSAddr)
	}
	return s, nil
}

func (s *Service) path(hash string) string {
	return filepath.Join(s.cfg.Folder, hash)
}

// hashKind classifies a hash, treating unknown shapes as unfetchable.
func hashKind(hash string) message.ItemType {
	kind, err := message.ItemTypeFromHash(hash)
	if err != nil {
		return ""
	}
	return kind
}

// Read returns the content stored for a hash. Local blobs are preferred;
// IPFS hashes fall back to the daemon and are persisted locally on success.
// Misses return ErrContentUnavailable, corrupted blobs ErrInvalidContent.
func (s *Service) Read(ctx context.Context, hash string) ([]byte, error) {
	if cached, ok := s.cache.Get(hash); ok {
		readsTotal.WithLabelValues(sourceCache, resultOK).Inc()
		return cached.([]byte), nil
	}

	content, err := os.ReadFile(s.path(hash))
	switch {
	case err == nil:
		if hashKind(hash) == message.ItemTypeStorage && message.Sha256Hex(content) != hash {
			readsTotal.WithLabelValues(sourceLocal, resultInvalid).Inc()
			return nil, errors.Wrapf(ErrInvalidContent, "local blob does not hash to %s", hash)
		}
		s.cacheContent(hash, content)
		readsTotal.WithLabelValues(sourceLocal, resultOK).Inc()
		return content, nil
	case !os.IsNotExist(err):
		return nil, errors.Wrap(err, "could not read local blob")
	}

	if hashKind(hash) != message.ItemTypeIPFS || s.ipfs == nil {
		readsTotal.WithLabelValues(sourceLocal, resultUnavailable).Inc()
		return nil, errors.Wrapf(ErrContentUnavailable, "no local blob for %s", hash)
	}

	content, err = s.catIPFS(ctx, hash)
	if err != nil {
		readsTotal.WithLabelValues(sourceIPFS, resultUnavailable).Inc()
		return nil, errors.Wrapf(ErrContentUnavailable, "ipfs fetch of %s: %v", hash, err)
	}
	if err := s.Write(hash, content); err != nil {
		log.WithError(err).WithField("hash", hash).Warn("Could not persist fetched blob")
	}
	readsTotal.WithLabelValues(sourceIPFS, resultOK).Inc()
	return content, nil
}

func (s *Service) catIPFS(ctx context.Context, hash string) ([]byte, error) {
	resp, err := s.ipfs.Request("cat", hash).Send(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	if resp.Error != nil {
		return nil, resp.Error
	}
	return io.ReadAll(resp.Output)
}

// Write persists a blob under its hash. The write goes through a temp file
// so concurrent readers never observe partial content.
func (s *Service) Write(hash string, content []byte) error {
	tmp, err := os.CreateTemp(s.cfg.Folder, "."+hash+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "could not create temp blob")
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "could not write temp blob")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "could not close temp blob")
	}
	if err := os.Rename(tmp.Name(), s.path(hash)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "could not move blob into place")
	}
	s.cacheContent(hash, content)
	return nil
}

// Add stores new content and returns its hash. With a daemon the content is
// added (and pinned) on IPFS and the hash is its CID; without one it is the
// sha256 of the bytes. Either way a local copy is kept under that hash.
func (s *Service) Add(ctx context.Context, content []byte) (string, error) {
	if s.ipfs == nil {
		hash := message.Sha256Hex(content)
		return hash, s.Write(hash, content)
	}
	hash, err := s.addIPFS(ctx, content)
	if err != nil {
		return "", errors.Wrap(err, "could not add content to ipfs")
	}
	if err := s.Write(hash, content); err != nil {
		log.WithError(err).WithField("hash", hash).Warn("Could not persist added blob")
	}
	return hash, nil
}

func (s *Service) addIPFS(ctx context.Context, content []byte) (string, error) {
	fr := ipfsfiles.NewReaderFile(bytes.NewReader(content))
	dir := ipfsfiles.NewSliceDirectory([]ipfsfiles.DirEntry{ipfsfiles.FileEntry("", fr)})
	body := ipfsfiles.NewMultiFileReader(dir, true)

	var out struct {
		Hash string `json:"Hash"`
	}
	err := s.ipfs.Request("add").
		Option("pin", true).
		Body(body).
		Exec(ctx, &out)
	if err != nil {
		return "", err
	}
	return out.Hash, nil
}

// Delete removes a blob from the folder and the cache. Missing blobs are
// not an error.
func (s *Service) Delete(hash string) error {
	s.cache.Delete(hash)
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not delete blob")
	}
	return nil
}

// Stat sizes a blob. IPFS hashes are sized through the daemon, which also
// classifies directories; local blobs are plain files.
func (s *Service) Stat(ctx context.Context, hash string) (*FileInfo, error) {
	if hashKind(hash) == message.ItemTypeIPFS && s.ipfs != nil {
		stat, err := s.ipfs.FilesStat(ctx, "/ipfs/"+hash)
		if err != nil {
			return nil, errors.Wrapf(ErrContentUnavailable, "ipfs stat of %s: %v", hash, err)
		}
		info := &FileInfo{Type: files.FileTypeFile, Size: int64(stat.CumulativeSize)}
		if stat.Type == "directory" {
			info.Type = files.FileTypeDirectory
		}
		return info, nil
	}
	fi, err := os.Stat(s.path(hash))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrContentUnavailable, "no local blob for %s", hash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not stat local blob")
	}
	return &FileInfo{Type: files.FileTypeFile, Size: fi.Size()}, nil
}

// PinAsync pins an IPFS hash in the background. Pin failures are logged and
// counted, never fatal: the content remains reachable through its origin.
func (s *Service) PinAsync(hash string) {
	if s.ipfs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PinTimeout)
		defer cancel()
		err := s.ipfs.Request("pin/add", hash).Option("recursive", true).Exec(ctx, nil)
		if err != nil {
			pinsTotal.WithLabelValues(resultFailed).Inc()
			log.WithError(err).WithField("hash", hash).Warn("Could not pin content")
			return
		}
		pinsTotal.WithLabelValues(resultOK).Inc()
		log.WithField("hash", hash).Debug("Content pinned")
	}()
}

func (s *Service) cacheContent(hash string, content []byte) {
	if len(content) <= message.MaxInlineContentSize {
		s.cache.SetDefault(hash, content)
	}
}
