package models

import "time"

// SearchResult is one ranked chunk returned by a search.
type SearchResult struct {
	ChunkID    string      `json:"chunk_id"`
	DocumentID string      `json:"document_id"`
	ChunkIndex int         `json:"chunk_index"`
	ChunkText  string      `json:"chunk_text"`
	Similarity float64     `json:"similarity"`
	Document   DocumentRef `json:"document"`
}

// DocumentRef is the document metadata carried with each search result.
type DocumentRef struct {
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	UploadDate time.Time `json:"upload_date"`
}

// SearchResponse wraps ranked results with scan metadata.
type SearchResponse struct {
	Query         string         `json:"query"`
	Results       []SearchResult `json:"results"`
	TotalSearched int            `json:"total_searched"`
	TotalMatches  int            `json:"total_matches"`
}
