package services

import (
	"context"
	"errors"
	"io"

	"walter_go_backend/internal/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

// GenAIStreamer implements ChatStreamer on the Gemini API.
type GenAIStreamer struct {
	client    *genai.Client
	modelName string
}

func NewGenAIStreamer(client *genai.Client, modelName string) *GenAIStreamer {
	return &GenAIStreamer{
		client:    client,
		modelName: modelName,
	}
}

func (g *GenAIStreamer) StreamChat(ctx context.Context, history []models.Message) (TokenStream, error) {
	if len(history) == 0 {
		return nil, errors.New("chat history is empty")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	prompt := history[len(history)-1]
	turns := history[:len(history)-1]

	// The API requires history to open with a user turn; the sliding window
	// can cut mid-exchange, so drop leading assistant messages.
	for len(turns) > 0 && turns[0].Role != models.RoleUser {
		turns = turns[1:]
	}

	session := model.StartChat()
	for _, msg := range turns {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	return &genaiTokenStream{
		iter: session.SendMessageStream(ctx, genai.Text(prompt.Content)),
	}, nil
}

type genaiTokenStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (t *genaiTokenStream) Next() (string, error) {
	for {
		response, err := t.iter.Next()
		if err == iterator.Done {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
			continue
		}
		if text, ok := response.Candidates[0].Content.Parts[0].(genai.Text); ok {
			return string(text), nil
		}
	}
}
