package chunker

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Source types accepted by Extract. Content-type aliases are normalized.
const (
	SourceText     = "text"
	SourceMarkdown = "markdown"
	SourceHTML     = "html"
	SourcePDF      = "pdf"
	SourceDocx     = "docx"
)

// ParseError reports an unsupported or corrupt source document. Chunking is
// all-or-nothing per document, so a ParseError means no chunks were produced.
type ParseError struct {
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parsing %s document failed", e.Format)
	}
	return fmt.Sprintf("parsing %s document: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Extract converts raw document bytes into plain text ready for chunking.
// sourceType accepts both the short names above and common MIME types.
func Extract(data []byte, sourceType string) (string, error) {
	switch normalizeSourceType(sourceType) {
	case SourceText, SourceMarkdown:
		if !utf8.Valid(data) {
			return "", &ParseError{Format: sourceType, Err: fmt.Errorf("content is not valid UTF-8")}
		}
		return string(data), nil
	case SourceHTML:
		return extractHTML(data)
	case SourcePDF:
		return extractPDF(data)
	case SourceDocx:
		return extractDocx(data)
	default:
		return "", &ParseError{Format: sourceType, Err: fmt.Errorf("unsupported source type")}
	}
}

func normalizeSourceType(sourceType string) string {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case SourceText, "text/plain", "txt":
		return SourceText
	case SourceMarkdown, "text/markdown", "md":
		return SourceMarkdown
	case SourceHTML, "text/html", "application/xhtml+xml":
		return SourceHTML
	case SourcePDF, "application/pdf":
		return SourcePDF
	case SourceDocx, "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return SourceDocx
	default:
		return ""
	}
}

// extractHTML tokenizes the markup and collects text nodes, skipping script
// and style bodies. Block-level closings become paragraph breaks.
func extractHTML(data []byte) (string, error) {
	tok := html.NewTokenizer(bytes.NewReader(data))

	var sb strings.Builder
	skipDepth := 0
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			if err := tok.Err(); err != io.EOF {
				return "", &ParseError{Format: SourceHTML, Err: err}
			}
			return collapseBlankRuns(sb.String()), nil
		case html.StartTagToken:
			name, _ := tok.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skippedTag(tag) && skipDepth > 0 {
				skipDepth--
			}
			if blockTag(tag) {
				sb.WriteString("\n\n")
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tok.Text()))
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "head", "svg":
		return true
	}
	return false
}

func blockTag(name string) bool {
	switch name {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr", "table", "section", "article":
		return true
	}
	return false
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{Format: SourcePDF, Err: err}
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", &ParseError{Format: SourcePDF, Err: err}
	}

	text, err := io.ReadAll(plain)
	if err != nil {
		return "", &ParseError{Format: SourcePDF, Err: err}
	}
	return string(text), nil
}

// extractDocx reads word/document.xml from the OOXML archive and collects
// run text, emitting paragraph breaks at each closing w:p element.
func extractDocx(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{Format: SourceDocx, Err: err}
	}

	var docXML []byte
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", &ParseError{Format: SourceDocx, Err: err}
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", &ParseError{Format: SourceDocx, Err: err}
		}
		break
	}
	if docXML == nil {
		return "", &ParseError{Format: SourceDocx, Err: fmt.Errorf("missing word/document.xml")}
	}

	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &ParseError{Format: SourceDocx, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return collapseBlankRuns(sb.String()), nil
}

// collapseBlankRuns trims trailing spaces per line and squeezes runs of
// blank lines down to one separator.
func collapseBlankRuns(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
