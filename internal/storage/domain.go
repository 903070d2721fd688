package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

func (s *Service) list(ctx context.Context, collection, persona string) ([]models.Record, error) {
	return s.GetAll(ctx, collection, backend.QueryOptions{PersonaID: persona})
}

// addFor inserts rec for persona, generating an id when it has none.
func (s *Service) addFor(ctx context.Context, collection, persona string, rec models.Record) (string, error) {
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	out := rec.Clone()
	if out == nil {
		out = models.Record{}
	}
	if id, ok := out.Key(models.FieldID); !ok || id == "" {
		out[models.FieldID] = b.GenerateID()
	}
	out[models.FieldPersonaID] = persona
	return s.Add(ctx, collection, out)
}

// saveFor adds rec when it has no id and replaces it otherwise.
func (s *Service) saveFor(ctx context.Context, collection, persona string, rec models.Record) (string, error) {
	if id, ok := rec.Key(models.FieldID); !ok || id == "" {
		return s.addFor(ctx, collection, persona, rec)
	}
	out := rec.Clone()
	out[models.FieldPersonaID] = persona
	return s.Put(ctx, collection, out)
}

// update merges updates into the stored record. The id cannot be changed.
func (s *Service) update(ctx context.Context, collection, id string, updates models.Record) error {
	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	merged := existing.Merge(updates)
	merged[models.FieldID] = existing[models.FieldID]
	_, err = s.Put(ctx, collection, merged)
	return err
}

// GetProfile returns the persona's profile, or nil if none is stored.
func (s *Service) GetProfile(ctx context.Context, persona string) (models.Record, error) {
	return s.Get(ctx, schema.Profiles, persona)
}

// SaveProfile stores profile as the persona's only profile record.
func (s *Service) SaveProfile(ctx context.Context, persona string, profile models.Record) error {
	out := profile.Clone()
	if out == nil {
		out = models.Record{}
	}
	out[models.FieldID] = persona
	out[models.FieldPersonaID] = persona
	_, err := s.Put(ctx, schema.Profiles, out)
	return err
}

func (s *Service) Experiences(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Experiences, persona)
}

func (s *Service) Experience(ctx context.Context, id string) (models.Record, error) {
	return s.Get(ctx, schema.Experiences, id)
}

func (s *Service) AddExperience(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.addFor(ctx, schema.Experiences, persona, rec)
}

func (s *Service) UpdateExperience(ctx context.Context, id string, updates models.Record) error {
	return s.update(ctx, schema.Experiences, id, updates)
}

func (s *Service) DeleteExperience(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Experiences, id)
}

func (s *Service) Stories(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Stories, persona)
}

func (s *Service) Story(ctx context.Context, id string) (models.Record, error) {
	return s.Get(ctx, schema.Stories, id)
}

func (s *Service) AddStory(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.addFor(ctx, schema.Stories, persona, rec)
}

func (s *Service) UpdateStory(ctx context.Context, id string, updates models.Record) error {
	return s.update(ctx, schema.Stories, id, updates)
}

func (s *Service) DeleteStory(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Stories, id)
}

// StoriesForExperience returns the stories linked to one experience.
func (s *Service) StoriesForExperience(ctx context.Context, experienceID string) ([]models.Record, error) {
	return s.GetAll(ctx, schema.Stories, backend.QueryOptions{
		Where: &backend.Condition{Field: "experienceId", Value: experienceID},
	})
}

func (s *Service) Jobs(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Jobs, persona)
}

func (s *Service) AddJob(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.addFor(ctx, schema.Jobs, persona, rec)
}

func (s *Service) UpdateJob(ctx context.Context, id string, updates models.Record) error {
	return s.update(ctx, schema.Jobs, id, updates)
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Jobs, id)
}

func (s *Service) Goals(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Goals, persona)
}

func (s *Service) AddGoal(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.addFor(ctx, schema.Goals, persona, rec)
}

func (s *Service) UpdateGoal(ctx context.Context, id string, updates models.Record) error {
	return s.update(ctx, schema.Goals, id, updates)
}

func (s *Service) DeleteGoal(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Goals, id)
}

func (s *Service) Portfolio(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Portfolio, persona)
}

func (s *Service) AddPortfolioProject(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.addFor(ctx, schema.Portfolio, persona, rec)
}

func (s *Service) Documents(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Documents, persona)
}

func (s *Service) Document(ctx context.Context, id string) (models.Record, error) {
	return s.Get(ctx, schema.Documents, id)
}

// SaveDocument adds a document without an id and replaces one with an id.
func (s *Service) SaveDocument(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.saveFor(ctx, schema.Documents, persona, rec)
}

func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Documents, id)
}

func (s *Service) Diagrams(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Diagrams, persona)
}

func (s *Service) Diagram(ctx context.Context, id string) (models.Record, error) {
	return s.Get(ctx, schema.Diagrams, id)
}

func (s *Service) SaveDiagram(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.saveFor(ctx, schema.Diagrams, persona, rec)
}

func (s *Service) DeleteDiagram(ctx context.Context, id string) error {
	return s.Delete(ctx, schema.Diagrams, id)
}

func (s *Service) Artifacts(ctx context.Context, persona string) ([]models.Record, error) {
	return s.list(ctx, schema.Artifacts, persona)
}

func (s *Service) SaveArtifact(ctx context.Context, persona string, rec models.Record) (string, error) {
	return s.saveFor(ctx, schema.Artifacts, persona, rec)
}

// documentIDsField lists, on an experience, the documents linked to it.
const documentIDsField = "documentIds"

// MoveDocumentLink relinks a document to another experience and updates the
// link lists of both experiences in one transaction.
func (s *Service) MoveDocumentLink(ctx context.Context, documentID, toExperienceID string) error {
	return s.Transaction(ctx, []string{schema.Documents, schema.Experiences}, func(ctx context.Context) error {
		doc, err := s.Get(ctx, schema.Documents, documentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
		target, err := s.Get(ctx, schema.Experiences, toExperienceID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("experience %s: %w", toExperienceID, ErrNotFound)
		}

		fromID := ""
		if doc.String("linkedType") == "experience" {
			fromID = doc.String("linkedId")
		}
		if fromID == toExperienceID {
			return nil
		}

		if fromID != "" {
			source, err := s.Get(ctx, schema.Experiences, fromID)
			if err != nil {
				return err
			}
			if source != nil {
				source[documentIDsField] = withoutID(source[documentIDsField], documentID)
				if _, err := s.Put(ctx, schema.Experiences, source); err != nil {
					return err
				}
			}
		}

		target[documentIDsField] = append(withoutID(target[documentIDsField], documentID), documentID)
		if _, err := s.Put(ctx, schema.Experiences, target); err != nil {
			return err
		}

		doc["linkedType"] = "experience"
		doc["linkedId"] = toExperienceID
		_, err = s.Put(ctx, schema.Documents, doc)
		return err
	})
}

func withoutID(list any, id string) []any {
	items, _ := list.([]any)
	out := make([]any, 0, len(items))
	for _, v := range items {
		if models.KeyString(v) != id {
			out = append(out, v)
		}
	}
	return out
}

// countedCollections are reported by Counts.
var countedCollections = []string{
	schema.Experiences, schema.Stories, schema.Jobs, schema.Goals,
	schema.Portfolio, schema.Documents, schema.Diagrams, schema.Artifacts,
}

// Counts returns the number of records per persona-scoped collection.
func (s *Service) Counts(ctx context.Context, persona string) (map[string]int, error) {
	out := make(map[string]int, len(countedCollections))
	for _, c := range countedCollections {
		n, err := s.Count(ctx, c, backend.QueryOptions{PersonaID: persona})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c, err)
		}
		out[c] = n
	}
	return out, nil
}
