package pipeline

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"pai-kb-go/internal/apperr"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	mimePDF      = "application/pdf"
	mimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText     = "text/plain"
	mimeMarkdown = "text/markdown"
)

type format int

const (
	formatUnknown format = iota
	formatPDF
	formatText
	formatDOCX
)

// DocumentParser 把文件字节转换为纯文本。
type DocumentParser struct{}

func NewDocumentParser() *DocumentParser {
	return &DocumentParser{}
}

// normalizeMIME 去掉参数部分（如 charset）并转小写。
func normalizeMIME(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

// DetectType 返回用于判定格式的 MIME 类型。声明为空或 octet-stream 时按内容嗅探。
func DetectType(data []byte, declaredMIME string) string {
	m := normalizeMIME(declaredMIME)
	if m == "" || m == "application/octet-stream" {
		m = normalizeMIME(mimetype.Detect(data).String())
	}
	return m
}

func resolveFormat(mimeType, fileName string) format {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case mimeType == mimePDF || ext == ".pdf":
		return formatPDF
	case mimeType == mimeDOCX || ext == ".docx":
		return formatDOCX
	case mimeType == mimeText, mimeType == mimeMarkdown, mimeType == "text/x-markdown",
		ext == ".txt", ext == ".md", ext == ".markdown":
		return formatText
	}
	return formatUnknown
}

// Parse 根据声明的 MIME 类型和文件名解析文本。
func (p *DocumentParser) Parse(data []byte, declaredMIME, fileName string) (string, error) {
	detected := DetectType(data, declaredMIME)
	switch resolveFormat(detected, fileName) {
	case formatPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", &apperr.ParseError{FileName: fileName, Err: err}
		}
		return text, nil
	case formatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return "", &apperr.ParseError{FileName: fileName, Err: err}
		}
		return text, nil
	case formatText:
		if !utf8.Valid(data) {
			return "", &apperr.ParseError{FileName: fileName, Err: fmt.Errorf("invalid UTF-8 content")}
		}
		return strings.TrimPrefix(string(data), "\ufeff"), nil
	default:
		return "", &apperr.UnsupportedFormatError{FileName: fileName, DetectedType: detected}
	}
}

// extractPDF 逐页提取文本，基线（Y 坐标）变化时换行。
// 底层库遇到损坏的文件可能 panic，这里统一转成错误。
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf decode panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	var lines []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, pdfLines(page.Content().Text)...)
	}
	return strings.Join(lines, "\n"), nil
}

// pdfLines 按出现顺序把字形片段拼成行。
func pdfLines(fragments []pdf.Text) []string {
	var (
		lines   []string
		current strings.Builder
		lastY   float64
	)
	for i, f := range fragments {
		if i > 0 && f.Y != lastY {
			lines = append(lines, current.String())
			current.Reset()
		}
		current.WriteString(f.S)
		lastY = f.Y
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

// extractDOCX 从 word/document.xml 中提取 <w:t> 文本，每个段落 <w:p> 输出一行。
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx zip: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx missing word/document.xml")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
		runDepth   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				runDepth++
			case "t":
				inText = true
			case "tab":
				// 段落属性里的 <w:tabs><w:tab/> 是制表位定义，不是内容
				if runDepth > 0 {
					current.WriteString("\t")
				}
			case "br":
				if runDepth > 0 {
					current.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				runDepth--
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return strings.Join(paragraphs, "\n"), nil
}
