package dto

type CursorUpdateRequest struct {
	ContentPath    string `json:"content_path"`
	Position       int    `json:"position"`
	SelectionStart *int   `json:"selection_start,omitempty"`
	SelectionEnd   *int   `json:"selection_end,omitempty"`
}
