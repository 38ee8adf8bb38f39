package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// maxNoteTitle is the Note.Title field length.
const maxNoteTitle = 80

// CreateNote attaches a Note to the record identified by parentID.
func CreateNote(ctx context.Context, c Client, parentID, title, body string) (string, error) {
	if parentID == "" {
		return "", eris.New("sf: note parent id is required")
	}
	if title == "" {
		title = "Enrichment"
	}
	if r := []rune(title); len(r) > maxNoteTitle {
		title = string(r[:maxNoteTitle])
	}
	id, err := c.Create(ctx, "Note", map[string]any{
		"ParentId": parentID,
		"Title":    title,
		"Body":     body,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create note for %s", parentID))
	}
	return id, nil
}
