package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/driftsync/driftsync/pkg/transfer"
)

// sessionToken is the resume token payload. Completed parts ride along in
// the token so a resumed session knows what not to re-send; S3 keeps the
// actual part data server-side under the upload id.
type sessionToken struct {
	UploadID  string         `json:"upload_id"`
	Path      string         `json:"path"`
	Size      int64          `json:"size"`
	ChunkSize int64          `json:"chunk_size"`
	Parts     map[int]string `json:"parts"` // chunk index -> part etag
}

func (b *Backend) OpenUpload(ctx context.Context, p string, size, chunkSize int64) (transfer.UploadSession, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}

	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	return &session{
		backend: b,
		token: sessionToken{
			UploadID:  aws.ToString(out.UploadId),
			Path:      p,
			Size:      size,
			ChunkSize: chunkSize,
			Parts:     make(map[int]string),
		},
	}, nil
}

func (b *Backend) ResumeUpload(ctx context.Context, token []byte) (transfer.UploadSession, error) {
	var t sessionToken
	if err := json.Unmarshal(token, &t); err != nil || t.UploadID == "" {
		return nil, transfer.ErrInvalidToken
	}
	if t.Parts == nil {
		t.Parts = make(map[int]string)
	}

	// Verify the upload still exists; S3 aborts idle multipart uploads
	// per bucket lifecycle rules.
	_, err := b.client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.key(t.Path)),
		UploadId: aws.String(t.UploadID),
		MaxParts: aws.Int32(1),
	})
	if err != nil {
		var noUpload *types.NoSuchUpload
		if errors.As(err, &noUpload) {
			return nil, transfer.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to verify multipart upload: %w", err)
	}

	return &session{backend: b, token: t}, nil
}

type session struct {
	backend   *Backend
	token     sessionToken
	finalized bool
}

func (s *session) RemotePath() string { return s.token.Path }
func (s *session) Size() int64        { return s.token.Size }
func (s *session) ChunkSize() int64   { return s.token.ChunkSize }

func (s *session) Acked(index int) bool {
	_, ok := s.token.Parts[index]
	return ok
}

func (s *session) WriteChunk(ctx context.Context, index int, data []byte) error {
	if s.finalized {
		return transfer.ErrSessionFinalized
	}
	if index < 0 || index >= transfer.ChunkCount(s.token.Size, s.token.ChunkSize) {
		return transfer.ErrChunkOutOfRange
	}

	// Part numbers are 1-based (1-10000).
	out, err := s.backend.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.backend.bucket),
		Key:        aws.String(s.backend.key(s.token.Path)),
		UploadId:   aws.String(s.token.UploadID),
		PartNumber: aws.Int32(int32(index + 1)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", index+1, err)
	}

	s.token.Parts[index] = strings.Trim(aws.ToString(out.ETag), `"`)
	return nil
}

func (s *session) Token() ([]byte, error) {
	return json.Marshal(s.token)
}

func (s *session) Finalize(ctx context.Context) (*transfer.ObjectInfo, error) {
	if s.finalized {
		return nil, transfer.ErrSessionFinalized
	}

	chunks := transfer.ChunkCount(s.token.Size, s.token.ChunkSize)
	parts := make([]types.CompletedPart, 0, chunks)
	for i := 0; i < chunks; i++ {
		etag, ok := s.token.Parts[i]
		if !ok {
			return nil, fmt.Errorf("part %d missing at finalize", i+1)
		}
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(int32(i + 1)),
			ETag:       aws.String(etag),
		})
	}
	// CompleteMultipartUpload requires parts in ascending order.
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := s.backend.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.backend.bucket),
		Key:      aws.String(s.backend.key(s.token.Path)),
		UploadId: aws.String(s.token.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	s.finalized = true
	return s.backend.Stat(ctx, s.token.Path)
}

func (s *session) Abort(ctx context.Context) error {
	s.finalized = true
	_, err := s.backend.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.backend.bucket),
		Key:      aws.String(s.backend.key(s.token.Path)),
		UploadId: aws.String(s.token.UploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}
