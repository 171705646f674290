package council

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxAttachmentSize matches the backend's upload limit.
const MaxAttachmentSize = 20 * 1024 * 1024

// ConversationStore is the request/response side of the backend.
type ConversationStore struct {
	api *apiClient
}

func NewConversationStore(opts Options, creds Credentials) *ConversationStore {
	return &ConversationStore{api: newAPI(opts, creds)}
}

func conversationPath(id string) string {
	return "/api/conversations/" + url.PathEscape(id)
}

// List returns conversation metadata; messages are not populated.
func (s *ConversationStore) List(ctx context.Context) ([]Conversation, error) {
	req, err := s.api.newRequest(ctx, http.MethodGet, "/api/conversations", nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := s.api.do(req, "list conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *ConversationStore) Create(ctx context.Context) (*Conversation, error) {
	req, err := s.api.newRequest(ctx, http.MethodPost, "/api/conversations", struct{}{})
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := s.api.do(req, "create conversation", &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Get returns the conversation with its full message history.
func (s *ConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	req, err := s.api.newRequest(ctx, http.MethodGet, conversationPath(id), nil)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := s.api.do(req, "get conversation", &conv); err != nil {
		return nil, notFound(err, "conversation", id)
	}
	return &conv, nil
}

func (s *ConversationStore) Remove(ctx context.Context, id string) error {
	req, err := s.api.newRequest(ctx, http.MethodDelete, conversationPath(id), nil)
	if err != nil {
		return err
	}
	return notFound(s.api.do(req, "delete conversation", nil), "conversation", id)
}

type sendRequest struct {
	Content     string `json:"content"`
	PDFData     string `json:"pdf_data,omitempty"`
	PDFFilename string `json:"pdf_filename,omitempty"`
}

func newSendRequest(content string, att *Attachment) sendRequest {
	req := sendRequest{Content: content}
	if att != nil {
		req.PDFData = att.Payload
		req.PDFFilename = att.Filename
	}
	return req
}

// Send runs a full council turn without streaming and returns the settled
// assistant message.
func (s *ConversationStore) Send(ctx context.Context, id, content string, att *Attachment) (Message, error) {
	req, err := s.api.newRequest(ctx, http.MethodPost, conversationPath(id)+"/message", newSendRequest(content, att))
	if err != nil {
		return Message{}, err
	}
	var w messageWire
	if err := s.api.do(req, "send message", &w); err != nil {
		return Message{}, notFound(err, "conversation", id)
	}
	return Message{Role: RoleAssistant, Kind: KindCouncil, Turn: w.turn()}, nil
}

type uploadResponse struct {
	Filename  string `json:"filename"`
	Base64    string `json:"base64"`
	SizeBytes int64  `json:"size_bytes"`
}

// CheckAttachment applies the backend's upload rules locally.
func CheckAttachment(filename string, size int64) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return fmt.Errorf("%w: only PDF files allowed", ErrAttachmentRejected)
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("%w: PDF file too large, maximum size is 20MB", ErrAttachmentRejected)
	}
	return nil
}

// UploadPDF sends the file to the backend, which returns it base64-encoded
// for the next send.
func (s *ConversationStore) UploadPDF(ctx context.Context, filename string, r io.Reader) (Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAttachmentSize+1))
	if err != nil {
		return Attachment{}, err
	}
	if err := CheckAttachment(filename, int64(len(data))); err != nil {
		return Attachment{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Attachment{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Attachment{}, err
	}
	if err := mw.Close(); err != nil {
		return Attachment{}, err
	}

	req, err := s.api.newRequest(ctx, http.MethodPost, "/api/upload-pdf", nil)
	if err != nil {
		return Attachment{}, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body.Bytes()))
	req.ContentLength = int64(body.Len())
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body.Bytes())), nil
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := s.api.do(req, "upload attachment", &resp); err != nil {
		return Attachment{}, err
	}
	name := resp.Filename
	if name == "" {
		name = filepath.Base(filename)
	}
	size := resp.SizeBytes
	if size == 0 {
		size = int64(len(data))
	}
	return Attachment{Filename: name, Payload: resp.Base64, Size: size}, nil
}

// Health calls the backend's root health check.
func (s *ConversationStore) Health(ctx context.Context) error {
	req, err := s.api.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := s.api.do(req, "health check", &status); err != nil {
		return err
	}
	if status.Status != "ok" {
		return fmt.Errorf("backend reports status %q", status.Status)
	}
	return nil
}
