package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Office Open XML containers (DOCX, PPTX) are ZIP archives of XML parts.
// Text lives in w:t (word) and a:t (drawing) elements; document properties
// live in docProps/core.xml.

// ooxmlPart reads one named part out of an OOXML archive.
func ooxmlPart(archive *zip.ReadCloser, name string) ([]byte, error) {
	for _, file := range archive.File {
		if file.Name == name {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("part %s not found", name)
}

// coreProperties is the Dublin Core subset of docProps/core.xml.
type coreProperties struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
}

// ooxmlCoreProperties decodes docProps/core.xml into the metadata map.
// Missing parts and fields are skipped.
func ooxmlCoreProperties(archive *zip.ReadCloser, metadata map[string]interface{}) {
	data, err := ooxmlPart(archive, "docProps/core.xml")
	if err != nil {
		return
	}
	var props coreProperties
	if err := xml.Unmarshal(data, &props); err != nil {
		return
	}
	if props.Title != "" {
		metadata["title"] = props.Title
	}
	if props.Creator != "" {
		metadata["author"] = props.Creator
	}
	if props.Subject != "" {
		metadata["subject"] = props.Subject
	}
}

// textRuns walks an XML part and collects the character data of every
// element with the given local name (w:t for DOCX, a:t for PPTX). When
// paragraphTag is non-empty, the end of each such element closes a text
// group; groups come back as separate strings.
func textRuns(data []byte, runTag, paragraphTag string) ([]string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	var groups []string
	var current strings.Builder
	inRun := false

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			groups = append(groups, s)
		}
		current.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == runTag {
				inRun = true
			}
		case xml.EndElement:
			if t.Name.Local == runTag {
				inRun = false
				if paragraphTag == "" {
					current.WriteString(" ")
				}
			}
			if paragraphTag != "" && t.Name.Local == paragraphTag {
				flush()
			}
		case xml.CharData:
			if inRun {
				current.Write(t)
			}
		}
	}
	flush()
	return groups, nil
}
