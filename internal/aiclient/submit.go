package aiclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// AnalysisRequest is the payload of POST /analyze-clinical.
type AnalysisRequest struct {
	Transcript string
	Notes      string
	Files      []Attachment
}

// NoteRequest is the payload of POST /generate-clinical-note.
type NoteRequest struct {
	Transcript   string
	ClinicalData string
	NoteType     string
}

// Submission is the service's answer to a submit call. Task services return
// TaskID; the older synchronous service returns the result inline, in which
// case Result is set and there is nothing to poll.
type Submission struct {
	TaskID string
	Result *string
}

type submitResponse struct {
	TaskID   string  `json:"task_id"`
	Response *string `json:"response"`
}

func (s submitResponse) submission(op string) (Submission, error) {
	if s.TaskID != "" {
		return Submission{TaskID: s.TaskID}, nil
	}
	if s.Response != nil {
		return Submission{Result: s.Response}, nil
	}
	return Submission{}, &TransportError{Op: op, Err: errors.New("response carries neither task_id nor response")}
}

func (c *Client) SubmitAnalysis(ctx context.Context, in AnalysisRequest) (Submission, error) {
	req := c.http.R().SetMultipartFormData(map[string]string{
		"transcript": in.Transcript,
		"notes":      in.Notes,
	})
	for _, f := range in.Files {
		req.SetFileReader("files", f.Name, f.Content)
	}

	var out submitResponse
	if err := c.do(ctx, "analyze-clinical", resty.MethodPost, "/analyze-clinical", req, &out); err != nil {
		return Submission{}, err
	}
	return out.submission("analyze-clinical")
}

func (c *Client) SubmitNote(ctx context.Context, in NoteRequest) (Submission, error) {
	req := c.http.R().SetMultipartFormData(map[string]string{
		"transcript":    in.Transcript,
		"clinical_data": in.ClinicalData,
		"note_type":     in.NoteType,
	})

	var out submitResponse
	if err := c.do(ctx, "generate-clinical-note", resty.MethodPost, "/generate-clinical-note", req, &out); err != nil {
		return Submission{}, err
	}
	return out.submission("generate-clinical-note")
}

// Transcribe sends audio to the ASR endpoint and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audio Attachment) (string, error) {
	if audio.Name == "" {
		audio.Name = "audio"
	}
	req := c.http.R().SetFileReader("file", audio.Name, audio.Content)

	var out struct {
		Transcript *string `json:"transcript"`
	}
	if err := c.do(ctx, "transcribe", resty.MethodPost, c.asrURL, req, &out); err != nil {
		return "", err
	}
	if out.Transcript == nil {
		return "", &TransportError{Op: "transcribe", Err: fmt.Errorf("response carries no transcript")}
	}
	return *out.Transcript, nil
}
