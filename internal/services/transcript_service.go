package services

import (
	"io"
	"time"

	"walter_go_backend/internal/models"

	"github.com/jung-kurt/gofpdf"
)

// TranscriptService renders a conversation transcript as a PDF for download.
type TranscriptService struct{}

func NewTranscriptService() *TranscriptService {
	return &TranscriptService{}
}

func (s *TranscriptService) RenderPDF(conversation *models.Conversation, messages []models.Message, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.MultiCell(0, 7, tr(conversation.Title), "", "L", false)
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5, conversation.CreatedAt.Format(time.RFC1123), "", "L", false)
	pdf.Ln(4)

	for _, msg := range messages {
		label := "You"
		if msg.Role == models.RoleAssistant {
			label = "Walter"
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, label+"  ("+msg.CreatedAt.Format("Jan 2, 15:04")+")", "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(msg.Content), "", "L", false)
		pdf.Ln(3)
	}

	return pdf.Output(w)
}
