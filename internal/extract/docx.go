package extract

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// Paragraphs carry attributes in real documents (<w:p w:rsidR="...">), so match any.
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>|<w:p/>`)
	docxText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxOverride  = regexp.MustCompile(`<Override\s[^>]*>`)
	docxPartName  = regexp.MustCompile(`PartName="/?([^"]+)"`)
)

// extractDOCX returns one line per non-empty paragraph, separated by blank lines.
// DOCX is a ZIP whose main part is named in [Content_Types].xml (usually word/document.xml).
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(strings.NewReader(string(content)), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	part := docxDefaultPart
	if types, err := readZipPart(zr, contentTypesPart); err == nil {
		if p := docxMainPart(types); p != "" {
			part = p
		}
	}
	body, err := readZipPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	var paragraphs []string
	for _, p := range docxParagraph.FindAllString(body, -1) {
		var b strings.Builder
		for _, m := range docxText.FindAllStringSubmatch(p, -1) {
			b.WriteString(m[1])
		}
		if text := strings.TrimSpace(html.UnescapeString(b.String())); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// docxMainPart finds the main document part, independent of attribute order.
func docxMainPart(types string) string {
	for _, o := range docxOverride.FindAllString(types, -1) {
		if !strings.Contains(o, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := docxPartName.FindStringSubmatch(o); m != nil {
			return m[1]
		}
	}
	return ""
}

func readZipPart(zr *zip.Reader, name string) (string, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%s not found", name)
}
