package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/iago/genbot-dispatch/internal/domain"
)

func TestDecodeDocumentFallbacks(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{name: "utf8", data: []byte("привет, world"), want: "привет, world"},
		{name: "utf8 bom", data: append([]byte{0xEF, 0xBB, 0xBF}, "hello"...), want: "hello"},
		{name: "utf16le bom", data: []byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}, want: "hi"},
		{name: "utf16be bom", data: []byte{0xFE, 0xFF, 0x00, 'o', 0x00, 'k'}, want: "ok"},
		{name: "windows-1251", data: []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}, want: "Привет"},
	}
	for _, tc := range cases {
		got, err := DecodeDocument(tc.data)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := SplitMessage("   ", 10); len(chunks) != 0 {
		t.Fatalf("blank text should produce no chunks, got %d", len(chunks))
	}

	short := SplitMessage("short answer", 4000)
	if len(short) != 1 || short[0] != "short answer" {
		t.Fatalf("unexpected short split: %#v", short)
	}

	long := strings.Repeat("я", 9000)
	chunks := SplitMessage(long, 4000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	total := 0
	for _, chunk := range chunks {
		n := len([]rune(chunk))
		if n > 4000 {
			t.Fatalf("chunk of %d runes exceeds the limit", n)
		}
		total += n
	}
	if total != 9000 || strings.Join(chunks, "") != long {
		t.Fatalf("chunks do not reassemble the text")
	}

	withBreak := strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 5)
	parts := SplitMessage(withBreak, 10)
	if parts[0] != strings.Repeat("a", 7)+"\n" {
		t.Fatalf("expected a break after the newline, got %q", parts[0])
	}
}

type stubFetcher struct {
	data []byte
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	return s.data, s.err
}

type stubTranscriber struct {
	text string
	got  []byte
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	s.got = data
	return s.text, nil
}

func TestInputResolver(t *testing.T) {
	ctx := context.Background()

	plain, err := NewInputResolver(nil, nil).Resolve(ctx, "just text", nil)
	if err != nil || plain != "just text" {
		t.Fatalf("unexpected plain resolve: %q %v", plain, err)
	}

	fetcher := &stubFetcher{data: []byte("file body")}
	doc, err := NewInputResolver(fetcher, nil).Resolve(ctx, "summarise", &domain.FileRef{URL: "https://files/doc.txt", Type: domain.FileTypeDocument})
	if err != nil {
		t.Fatalf("resolve document: %v", err)
	}
	if doc != "summarise\n\nfile body" {
		t.Fatalf("unexpected document turn: %q", doc)
	}

	transcriber := &stubTranscriber{text: "spoken words"}
	voice, err := NewInputResolver(&stubFetcher{data: []byte{1, 2, 3}}, transcriber).Resolve(ctx, "", &domain.FileRef{URL: "https://files/v.ogg", Type: domain.FileTypeVoice})
	if err != nil || voice != "spoken words" {
		t.Fatalf("unexpected voice turn: %q %v", voice, err)
	}
	if len(transcriber.got) != 3 {
		t.Fatalf("transcriber did not receive the audio")
	}

	_, err = NewInputResolver(fetcher, nil).Resolve(ctx, "", &domain.FileRef{URL: "https://files/x", Type: "sticker"})
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected ErrUnsupportedFile, got %v", err)
	}
}
