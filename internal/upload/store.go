package upload

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/types"
	"github.com/google/uuid"
)

// Store saves uploaded files on disk and hands back references for
// file messages. The core never sees file bytes, only the reference.
type Store struct {
	log     *log.Logger
	dir     string
	baseURL string
}

// SavedFile describes a stored upload.
type SavedFile struct {
	Filename      string            `json:"filename"`
	SavedFilename string            `json:"saved_filename"`
	URL           string            `json:"file_url"`
	Size          int64             `json:"file_size"`
	Kind          types.MessageType `json:"file_type"`
	ContentType   string            `json:"content_type"`
}

func NewStore(logger *log.Logger, dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Store{
		log:     logger,
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Save writes r to disk under a timestamped, collision-safe name and
// returns the stored file's reference.
func (s *Store) Save(filename, contentType string, r io.Reader) (*SavedFile, error) {
	if filename == "" {
		return nil, fmt.Errorf("no filename provided")
	}

	savedName := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:8],
		filepath.Ext(filename),
	)

	path := filepath.Join(s.dir, savedName)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write file: %w", err)
	}

	s.log.Printf("stored upload %q (%d bytes)", savedName, size)

	return &SavedFile{
		Filename:      filename,
		SavedFilename: savedName,
		URL:           fmt.Sprintf("%s/uploads/%s", s.baseURL, savedName),
		Size:          size,
		Kind:          ClassifyKind(contentType),
		ContentType:   contentType,
	}, nil
}

// Dir returns the directory uploads are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// ClassifyKind maps a content type to the file message kind it is
// shared as.
func ClassifyKind(contentType string) types.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return types.MessageImage
	case strings.HasPrefix(contentType, "video/"):
		return types.MessageVideo
	case strings.HasPrefix(contentType, "audio/"):
		return types.MessageAudio
	case strings.Contains(contentType, "pdf"),
		strings.Contains(contentType, "document"),
		strings.HasPrefix(contentType, "application/"):
		return types.MessageDocument
	default:
		return types.MessageFile
	}
}
