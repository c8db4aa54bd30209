package handler

import (
	"context"

	"github.com/hitoshi/kernelletter/internal/letter"
)

// LetterServiceAdapter は letter.Service を LetterServiceInterface に適合させるアダプタ。
type LetterServiceAdapter struct {
	svc *letter.Service
}

// NewLetterServiceAdapter はLetterServiceAdapterを生成する。
func NewLetterServiceAdapter(svc *letter.Service) *LetterServiceAdapter {
	return &LetterServiceAdapter{svc: svc}
}

// Send は手紙を送信しhandlerレスポンス型で返す。
func (a *LetterServiceAdapter) Send(ctx context.Context, actorID int64, in letter.SendInput) (*letterResponse, error) {
	l, err := a.svc.Send(ctx, actorID, in)
	if err != nil {
		return nil, err
	}
	return &letterResponse{
		ID:         l.ID,
		SenderID:   l.SenderID,
		ReceiverID: l.ReceiverID,
		Content:    l.Content,
		Position:   l.Position,
		CreatedAt:  l.CreatedAt,
	}, nil
}

// Patch は手紙の本文を置き換える。
func (a *LetterServiceAdapter) Patch(ctx context.Context, actorID int64, receiver letter.ReceiverRef, in letter.PatchInput) error {
	return a.svc.Patch(ctx, actorID, receiver, in)
}

// Delete は手紙を削除する。
func (a *LetterServiceAdapter) Delete(ctx context.Context, actorID, letterID int64) error {
	return a.svc.Delete(ctx, actorID, letterID)
}

// ListReceived は受信一覧をhandlerレスポンス型で返す。
func (a *LetterServiceAdapter) ListReceived(ctx context.Context, receiver letter.ReceiverRef) ([]receivedLetterResponse, error) {
	letters, err := a.svc.ListReceived(ctx, receiver)
	if err != nil {
		return nil, err
	}

	results := make([]receivedLetterResponse, len(letters))
	for i, l := range letters {
		results[i] = receivedLetterResponse{
			ID:         l.ID,
			SenderName: l.SenderName,
			Content:    l.Content,
			Position:   l.Position,
		}
	}
	return results, nil
}

// GetOne は手紙1通をhandlerレスポンス型で返す。
func (a *LetterServiceAdapter) GetOne(ctx context.Context, actorID, receiverID, letterID int64) (*letterDetailResponse, error) {
	d, err := a.svc.GetOne(ctx, actorID, receiverID, letterID)
	if err != nil {
		return nil, err
	}
	return &letterDetailResponse{
		ID:         d.ID,
		SenderID:   d.SenderID,
		SenderName: d.SenderName,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Position:   d.Position,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}

// ListSent は送信済み一覧をhandlerレスポンス型で返す。
func (a *LetterServiceAdapter) ListSent(ctx context.Context, actorID, senderID int64) ([]sentLetterResponse, error) {
	letters, err := a.svc.ListSent(ctx, actorID, senderID)
	if err != nil {
		return nil, err
	}

	results := make([]sentLetterResponse, len(letters))
	for i, l := range letters {
		results[i] = sentLetterResponse{
			ID:           l.ID,
			ReceiverID:   l.ReceiverID,
			ReceiverName: l.ReceiverName,
			Content:      l.Content,
			Position:     l.Position,
			CreatedAt:    l.CreatedAt,
			UpdatedAt:    l.UpdatedAt,
		}
	}
	return results, nil
}

// --- compile-time interface checks ---

var _ LetterServiceInterface = (*LetterServiceAdapter)(nil)
