package knowledge

import (
	"context"
	"time"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// Recover rebuilds the in-memory registries from the vector index. Every
// context collection is scrolled; embedding payloads are grouped by
// document_id and each group becomes a COMPLETED document whose chunk count
// is the per-context embedding count. Tasks are not recovered.
func (s *Service) Recover(ctx context.Context) error {
	contexts, err := s.index.ListContexts(ctx)
	if err != nil {
		return err
	}

	type docBuild struct {
		doc *model.Document
		// chunk count per context; the counts are equal per the write
		// path, so any of them becomes ChunkCount.
		perContext map[string]int
	}
	builds := make(map[string]*docBuild)

	for _, contextName := range contexts {
		s.mu.Lock()
		if _, ok := s.contexts[contextName]; !ok {
			s.contexts[contextName] = model.NewContext(contextName, "", nil)
		}
		s.mu.Unlock()

		records, err := s.index.GetAll(ctx, contextName)
		if err != nil {
			s.logf("knowledge: recovery scroll of context %q failed: %v", contextName, err)
			continue
		}
		for _, record := range records {
			docID := metaString(record.Metadata, "document_id")
			if docID == "" {
				continue
			}
			build, ok := builds[docID]
			if !ok {
				sizeBytes := int64(metaInt(record.Metadata, "size_bytes"))
				if sizeBytes == 0 {
					// Legacy payloads carry no size.
					sizeBytes = 1
				}
				now := time.Now().UTC()
				build = &docBuild{
					doc: &model.Document{
						ID:               docID,
						Filename:         metaString(record.Metadata, "filename"),
						ContentHash:      metaString(record.Metadata, "content_hash"),
						Format:           model.Format(metaString(record.Metadata, "format")),
						SizeBytes:        sizeBytes,
						DateAdded:        now,
						DateModified:     now,
						ProcessingStatus: model.StatusCompleted,
						ProcessingMethod: model.ProcessingMethod(metaString(record.Metadata, "processing_method")),
						Metadata:         map[string]interface{}{},
					},
					perContext: make(map[string]int),
				}
				builds[docID] = build
			}
			build.perContext[contextName]++
			if !containsString(build.doc.Contexts, contextName) {
				build.doc.Contexts = append(build.doc.Contexts, contextName)
			}
		}
	}

	s.mu.Lock()
	for _, build := range builds {
		for _, count := range build.perContext {
			build.doc.ChunkCount = count
			break
		}
		s.documents[build.doc.ID] = build.doc
		for contextName := range build.perContext {
			if c, ok := s.contexts[contextName]; ok {
				c.DocumentCount++
			}
		}
	}
	recovered := len(builds)
	s.mu.Unlock()

	if recovered > 0 {
		s.logf("knowledge: recovered %d documents from %d contexts", recovered, len(contexts))
	}
	return nil
}
