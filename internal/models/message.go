package models

// Upload is an image selected for analysis.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// AnalysisRequest carries everything the remote analysis service needs for one exchange.
type AnalysisRequest struct {
	Subject string
	Token   string
	Image   Upload
}

// DeclineMarker is the phrase the analysis service uses when it refuses to analyze a photo.
const DeclineMarker = "AI is unable to analyze"
