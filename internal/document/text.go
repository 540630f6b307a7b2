// Package document turns uploaded training documents into plain text the generation
// service can read.
package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for documents whose format has no text extractor.
var ErrUnsupported = errors.New("unsupported document type")

// ErrNoText is returned when a supported document yields no readable text.
var ErrNoText = errors.New("document contains no readable text")

// Format is a document family with its own extractor.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatDOCX  Format = "docx"
	FormatPPTX  Format = "pptx"
	FormatHTML  Format = "html"
	FormatText  Format = "text"
	FormatImage Format = "image"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

var textMimeTypes = map[string]bool{
	"application/json":     true,
	"application/xml":      true,
	"application/x-ndjson": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true, ".srt": true, ".vtt": true,
}

// Detect resolves the format of a document from its mime type, falling back to the
// file extension. The second return value is false for formats without an extractor.
func Detect(mimeType, filename string) (Format, bool) {
	mt := mediaType(mimeType)
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case mt == mimePDF || ext == ".pdf":
		return FormatPDF, true
	case mt == mimeDOCX || ext == ".docx":
		return FormatDOCX, true
	case mt == mimePPTX || ext == ".pptx":
		return FormatPPTX, true
	case strings.HasPrefix(mt, "image/"):
		return FormatImage, true
	case mt == "text/html" || ext == ".html" || ext == ".htm":
		return FormatHTML, true
	case strings.HasPrefix(mt, "text/") || textMimeTypes[mt] || textExtensions[ext]:
		return FormatText, true
	}
	return "", false
}

// ExtractText returns the readable text of a document. Images carry no text and are
// rejected; callers send them to the model as images instead.
func ExtractText(mimeType, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoText
	}
	format, ok := Detect(mimeType, filename)
	if !ok || format == FormatImage {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, describe(mimeType, filename))
	}

	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, err = pdfText(data)
	case FormatDOCX:
		text, err = openXMLText(data, func(name string) bool { return name == "word/document.xml" })
	case FormatPPTX:
		text, err = openXMLText(data, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	case FormatHTML:
		text = htmlText(string(data))
	case FormatText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupported, describe(mimeType, filename))
		}
		text = string(data)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", format, err)
	}

	text = normalize(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func openXMLText(data []byte, include func(name string) bool) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var parts []*zip.File
	for _, f := range zr.File {
		if include(f.Name) {
			parts = append(parts, f)
		}
	}
	// slide10.xml must follow slide9.xml
	sort.Slice(parts, func(i, j int) bool {
		if len(parts[i].Name) != len(parts[j].Name) {
			return len(parts[i].Name) < len(parts[j].Name)
		}
		return parts[i].Name < parts[j].Name
	})

	var out strings.Builder
	for _, f := range parts {
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		err = xmlRuns(rc, &out)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return out.String(), nil
}

// xmlRuns writes the text runs (<w:t>, <a:t>) of an OpenXML part, one paragraph per line.
func xmlRuns(r io.Reader, out *strings.Builder) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				var run string
				if err := dec.DecodeElement(&run, &el); err != nil {
					return err
				}
				out.WriteString(run)
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteString("\n")
			}
		}
	}
}

var (
	htmlDropBlocks = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	htmlBreaks     = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/h[1-6]|/tr)[^>]*>`)
	htmlTags       = regexp.MustCompile(`(?s)<[^>]*>`)
)

func htmlText(s string) string {
	s = htmlDropBlocks.ReplaceAllString(s, " ")
	s = htmlBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

// normalize collapses runs of spaces inside lines and drops blank lines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func mediaType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

func describe(mimeType, filename string) string {
	if mimeType == "" {
		return filename
	}
	return mimeType
}
