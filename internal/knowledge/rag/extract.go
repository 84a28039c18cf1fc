package rag

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ai-hotline/internal/apperr"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DocumentExtensions are the file types ExtractText understands.
var DocumentExtensions = map[string]bool{".txt": true, ".md": true, ".docx": true}

// ValidateFile checks size and extension before a document is accepted.
func ValidateFile(filename string, size, maxSize int64) error {
	if size == 0 {
		return apperr.Validationf("EMPTY_FILE", "file is empty")
	}
	if maxSize > 0 && size > maxSize {
		return apperr.New(apperr.File, "FILE_TOO_LARGE",
			fmt.Sprintf("file exceeds the maximum size of %d bytes", maxSize)).
			WithDetails("max_size", maxSize)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return apperr.New(apperr.File, "UNSUPPORTED_DOCUMENT", "PDF documents are not supported, upload .txt, .md or .docx")
	}
	if !DocumentExtensions[ext] {
		return apperr.New(apperr.File, "INVALID_FILE_TYPE", fmt.Sprintf("unsupported file type %q", ext)).
			WithDetails("allowed", []string{".txt", ".md", ".docx"})
	}
	return nil
}

// ExtractText returns the plain text of a .txt, .md or .docx file.
func ExtractText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", apperr.New(apperr.DocumentProcessing, "INVALID_ENCODING", "text files must be UTF-8 encoded")
		}
		return string(data), nil
	case ".docx":
		text, err := extractDocx(data)
		if err != nil {
			return "", apperr.Wrap(apperr.DocumentProcessing, "DOCX_EXTRACTION_FAILED", "failed to read docx document", err)
		}
		return text, nil
	case ".pdf":
		return "", apperr.New(apperr.File, "UNSUPPORTED_DOCUMENT", "PDF documents are not supported, upload .txt, .md or .docx")
	}
	return "", apperr.New(apperr.File, "INVALID_FILE_TYPE", fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)))
}

// extractDocx reads the paragraphs of word/document.xml.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
