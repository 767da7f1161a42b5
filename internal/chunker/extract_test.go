package chunker

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestExtract_MarkdownPassthrough(t *testing.T) {
	in := "# Title\n\nBody text."
	got, err := Extract([]byte(in), "text/markdown")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != in {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestExtract_InvalidUTF8(t *testing.T) {
	_, err := Extract([]byte{0xff, 0xfe, 0x01}, "text")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestExtract_UnsupportedType(t *testing.T) {
	_, err := Extract([]byte("data"), "image/png")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestExtract_HTML(t *testing.T) {
	in := `<html><head><title>ignored</title><style>p{color:red}</style></head>
		<body><h1>Deploys</h1><p>Use terraform apply.</p><script>alert(1)</script></body></html>`

	got, err := Extract([]byte(in), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Deploys", "Use terraform apply."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %q", want, got)
		}
	}
	for _, banned := range []string{"ignored", "color:red", "alert"} {
		if strings.Contains(got, banned) {
			t.Errorf("output leaked %q: %q", banned, got)
		}
	}
}

func TestExtract_Docx(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	_, err = w.Write([]byte(`<?xml version="1.0"?>
		<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
		<w:body>
		<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
		<w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
		</w:body></w:document>`))
	if err != nil {
		t.Fatalf("writing zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}

	got, err := Extract(buf.Bytes(), "docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "First paragraph.") {
		t.Errorf("missing first paragraph: %q", got)
	}
	if !strings.Contains(got, "Second paragraph.") {
		t.Errorf("runs not joined: %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Errorf("paragraph break missing: %q", got)
	}
}

func TestExtract_DocxMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/styles.xml"); err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}

	_, err := Extract(buf.Bytes(), "docx")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestExtract_CorruptPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), "application/pdf")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestCollapseBlankRuns(t *testing.T) {
	in := "a  \n\n\n\nb\n\n\nc\n"
	want := "a\n\nb\n\nc"
	if got := collapseBlankRuns(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
