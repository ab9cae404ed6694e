package domain

// FileRef references an uploaded file held by the external storage.
type FileRef struct {
	ID        string `json:"file_id"`
	Name      string `json:"original_name,omitempty"`
	Extension string `json:"extension,omitempty"`
	Size      int64  `json:"size,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Analysis is the AI-derived preview of a document's content.
type Analysis struct {
	Summary          string            `json:"summary"`
	DocumentType     string            `json:"document_type"`
	Confidence       float64           `json:"confidence"`
	KeyInformation   map[string]string `json:"key_information,omitempty"`
	SuggestedAnswers map[string]string `json:"suggested_answers,omitempty"`
}

// Proposal is the generated destination awaiting user confirmation.
type Proposal struct {
	Name            string   `json:"suggested_name"`
	Path            string   `json:"suggested_path"`
	FolderStructure []string `json:"folder_structure,omitempty"`
}

// FullPath joins the proposal path and name.
func (p Proposal) FullPath() string {
	if p.Path == "" || p.Path == "/" {
		return "/" + p.Name
	}
	if p.Path[len(p.Path)-1] == '/' {
		return p.Path + p.Name
	}
	return p.Path + "/" + p.Name
}

// Receipt is the result of a confirmed upload.
type Receipt struct {
	FinalPath string `json:"final_path"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
}
