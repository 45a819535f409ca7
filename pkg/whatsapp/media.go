package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sunshineplan/imgconv"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

// MediaPathPrefix marks media URLs that point at an uploaded file under the
// local media directory.
const MediaPathPrefix = "/media/"

type MediaFile struct {
	Data     []byte
	Mimetype string
	FileName string
}

// MediaLoader reads campaign media from http(s) URLs or from the local media
// directory, enforcing a size limit.
type MediaLoader struct {
	dir        string
	maxSize    int64
	httpClient *http.Client
}

func NewMediaLoader(dir string, maxSize int64) *MediaLoader {
	return &MediaLoader{
		dir:        dir,
		maxSize:    maxSize,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (l *MediaLoader) Load(ctx context.Context, rawURL string) (*MediaFile, error) {
	var (
		file *MediaFile
		err  error
	)
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		file, err = l.fetch(ctx, rawURL)
	default:
		file, err = l.readLocal(rawURL)
	}
	if err != nil {
		return nil, &campaign.MediaError{URL: rawURL, Err: err}
	}
	return file, nil
}

func (l *MediaLoader) tooLarge(size int64) error {
	return fmt.Errorf("file is %s, limit is %s", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(l.maxSize)))
}

func (l *MediaLoader) fetch(ctx context.Context, rawURL string) (*MediaFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}
	if l.maxSize > 0 && resp.ContentLength > l.maxSize {
		return nil, l.tooLarge(resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if l.maxSize > 0 {
		reader = io.LimitReader(resp.Body, l.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, l.tooLarge(int64(len(data)))
	}

	name := path.Base(req.URL.Path)
	if name == "/" || name == "." {
		name = ""
	}
	mimetype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return &MediaFile{Data: data, Mimetype: detectMimetype(data, name, mimetype), FileName: name}, nil
}

func (l *MediaLoader) readLocal(rawURL string) (*MediaFile, error) {
	if l.dir == "" {
		return nil, errors.New("local media is not configured")
	}
	name := filepath.Base(filepath.Clean("/" + strings.TrimPrefix(rawURL, MediaPathPrefix)))
	if name == "/" || name == "." {
		return nil, errors.New("empty media path")
	}
	full := filepath.Join(l.dir, name)

	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if l.maxSize > 0 && info.Size() > l.maxSize {
		return nil, l.tooLarge(info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return &MediaFile{Data: data, Mimetype: detectMimetype(data, name, ""), FileName: name}, nil
}

// detectMimetype prefers a declared type, then the file extension, then
// content sniffing.
func detectMimetype(data []byte, name string, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ext := filepath.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mediatype, _, _ := mime.ParseMediaType(byExt)
			return mediatype
		}
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}

// imageThumbnail renders the 72px wide JPEG preview WhatsApp shows before
// the full image downloads.
func imageThumbnail(data []byte) ([]byte, error) {
	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("error while decoding thumbnail image stream")
	}
	buf := new(bytes.Buffer)
	err = imgconv.Write(buf,
		imgconv.Resize(img, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, errors.New("error while encoding thumbnail image stream")
	}
	return buf.Bytes(), nil
}
