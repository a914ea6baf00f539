package model

// Chapter is one unit of story input consumed by the extraction pipeline.
type Chapter struct {
	Chapter  int    `json:"chapter"`
	Title    string `json:"title,omitempty"`
	Synopsis string `json:"synopsis"`
}
