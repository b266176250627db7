// Package columns projects image records onto the dashboard table.
package columns

import (
	"net/url"

	"github.com/lsst-camera-dev/recent-images/internal/models"
)

// Column names in schema order.
const (
	Image    = "Image"
	ImgType  = "ImgType"
	TestType = "TestType"
	DarkTime = "Dark Time"
	ExpTime  = "Exp Time"
	Run      = "Run"
	Tseqnum  = "Tseqnum"
	Date     = "Date"
	Rafts    = "Rafts"
)

// ViewerTarget is the named browsing context image links open in.
const ViewerTarget = "imageViewer"

// Names lists every column in schema order.
var Names = []string{Image, ImgType, TestType, DarkTime, ExpTime, Run, Tseqnum, Date, Rafts}

// Cell is one rendered table cell.
type Cell struct {
	Value  any    `json:"value" msgpack:"value"`
	Href   string `json:"href,omitempty" msgpack:"href,omitempty"`
	Target string `json:"target,omitempty" msgpack:"target,omitempty"`
}

// Extractor renders one field of a record. Extractors must be pure.
type Extractor func(models.ImageRecord) Cell

// Column pairs a display name with its extractor.
type Column struct {
	Name    string
	Extract Extractor
}

// Schema returns the fixed nine-column schema. Image links point at viewURL
// with the record's obsId and the given default raft.
func Schema(viewURL *url.URL, defaultRaft string) []Column {
	return []Column{
		{Image, func(r models.ImageRecord) Cell {
			return Cell{Value: r.ObsID, Href: ImageURL(viewURL, r.ObsID, defaultRaft), Target: ViewerTarget}
		}},
		{ImgType, func(r models.ImageRecord) Cell { return Cell{Value: r.ImgType} }},
		{TestType, func(r models.ImageRecord) Cell { return Cell{Value: r.TestType} }},
		{DarkTime, func(r models.ImageRecord) Cell { return Cell{Value: r.DarkTime} }},
		{ExpTime, func(r models.ImageRecord) Cell { return Cell{Value: r.ExposureTime} }},
		{Run, func(r models.ImageRecord) Cell { return Cell{Value: string(r.RunNumber)} }},
		{Tseqnum, func(r models.ImageRecord) Cell { return Cell{Value: r.Tseqnum} }},
		{Date, func(r models.ImageRecord) Cell { return Cell{Value: r.ObsDate.ISOSeconds()} }},
		{Rafts, func(r models.ImageRecord) Cell { return Cell{Value: CountRafts(r.RaftMask)} }},
	}
}

// Project drops the hidden columns from schema, keeping the remaining
// columns in their schema order. Unknown hidden names are ignored.
func Project(schema []Column, hidden []string) []Column {
	skip := make(map[string]struct{}, len(hidden))
	for _, name := range hidden {
		skip[name] = struct{}{}
	}

	visible := make([]Column, 0, len(schema))
	for _, col := range schema {
		if _, ok := skip[col.Name]; ok {
			continue
		}
		visible = append(visible, col)
	}
	return visible
}

// Render applies cols to every row.
func Render(cols []Column, rows []models.ImageRecord) (header []string, cells [][]Cell) {
	header = make([]string, len(cols))
	for i, col := range cols {
		header[i] = col.Name
	}

	cells = make([][]Cell, len(rows))
	for i, row := range rows {
		line := make([]Cell, len(cols))
		for j, col := range cols {
			line[j] = col.Extract(row)
		}
		cells[i] = line
	}
	return header, cells
}

// ImageURL builds the viewer link for one image.
func ImageURL(viewURL *url.URL, obsID, raft string) string {
	if viewURL == nil {
		return ""
	}
	u := *viewURL
	q := u.Query()
	q.Add("image", obsID)
	q.Add("raft", raft)
	u.RawQuery = q.Encode()
	return u.String()
}
