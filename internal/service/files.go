package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/iago/genbot-dispatch/internal/domain"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	ErrUnsupportedEncoding = errors.New("document encoding not recognised")
	ErrUnsupportedFile     = errors.New("unsupported file type")
)

// FileFetcher downloads a user upload. *imagegen.Fetcher implements it.
type FileFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Transcriber turns a voice note into text. *ai.TranscriptionClient implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, fileName string, audio io.Reader) (string, error)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Single-byte fallbacks, most likely first. ISO-8859-1 maps every byte and
// always succeeds.
var legacyEncodings = []encoding.Encoding{
	charmap.Windows1251,
	charmap.KOI8R,
	charmap.ISO8859_1,
}

// DecodeDocument returns the text of an uploaded document, trying UTF-8, then
// UTF-16 with a byte order mark, then the legacy code pages.
func DecodeDocument(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	if hasUTF16BOM(data) {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if text, ok := decodeWith(decoder, data); ok {
			return text, nil
		}
	}

	for _, enc := range legacyEncodings {
		if text, ok := decodeWith(enc.NewDecoder(), data); ok {
			return text, nil
		}
	}
	return "", ErrUnsupportedEncoding
}

func hasUTF16BOM(data []byte) bool {
	return len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF))
}

// decodeWith rejects output that gained replacement characters.
func decodeWith(decoder *encoding.Decoder, data []byte) (string, bool) {
	out, err := decoder.Bytes(data)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) && !bytes.Contains(data, []byte(string(utf8.RuneError))) {
		return "", false
	}
	return string(out), true
}

// InputResolver turns a job's message and optional upload into the user turn.
type InputResolver struct {
	files       FileFetcher
	transcriber Transcriber
}

func NewInputResolver(files FileFetcher, transcriber Transcriber) InputResolver {
	return InputResolver{files: files, transcriber: transcriber}
}

func (r InputResolver) Resolve(ctx context.Context, message string, file *domain.FileRef) (string, error) {
	if file == nil || strings.TrimSpace(file.URL) == "" {
		return message, nil
	}
	if r.files == nil {
		return "", fmt.Errorf("fetch %s: no file fetcher configured", file.Type)
	}

	data, err := r.files.Fetch(ctx, file.URL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", file.Type, err)
	}

	var content string
	switch file.Type {
	case domain.FileTypeDocument:
		content, err = DecodeDocument(data)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", file.Name, err)
		}
	case domain.FileTypeVoice:
		if r.transcriber == nil {
			return "", fmt.Errorf("transcribe voice: no transcriber configured")
		}
		name := file.Name
		if name == "" {
			name = "voice.ogg"
		}
		content, err = r.transcriber.Transcribe(ctx, name, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("transcribe voice: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, file.Type)
	}

	message = strings.TrimSpace(message)
	content = strings.TrimSpace(content)
	if message == "" {
		return content, nil
	}
	return message + "\n\n" + content, nil
}
