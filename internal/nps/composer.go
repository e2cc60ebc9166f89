package nps

import (
	"strings"

	"nps/api/internal/store"
)

type Form struct {
	Organization FormOrganization `json:"organization"`
	Completed    bool             `json:"completed"`
	Questions    []FormQuestion   `json:"questions"`
}

type FormOrganization struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

type FormQuestion struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Answer   any    `json:"answer"`
}

// composer renders obligations into forms. Missing reference rows render as
// empty fields.
type composer struct {
	graph        projectGraph
	questions    map[string]store.Question
	placeholders map[string]string
	typeNames    map[string]string
	stored       map[string]store.ResponseWitness
}

func (c composer) forms(obligations []Obligation) []Form {
	forms := make([]Form, 0, len(obligations))
	for _, obligation := range obligations {
		stored, answered := c.stored[obligation.OrganizationID]
		if answered && stored.Skipped {
			continue
		}
		answers := map[string]any{}
		for _, answer := range stored.Responses {
			answers[answer.QuestionID] = answer.Value
		}

		org := c.graph.organizations[obligation.OrganizationID]
		questions := make([]FormQuestion, 0, len(obligation.Questions))
		for _, questionID := range obligation.Questions {
			questions = append(questions, c.question(questionID, obligation.OrganizationID, answers))
		}

		forms = append(forms, Form{
			Organization: FormOrganization{
				ID:    obligation.OrganizationID,
				Name:  org.Name,
				Types: c.organizationTypeNames(org),
			},
			Completed: answered,
			Questions: questions,
		})
	}
	return forms
}

func (c composer) question(questionID, organizationID string, answers map[string]any) FormQuestion {
	question, ok := c.questions[questionID]
	if !ok {
		return FormQuestion{}
	}
	title := c.renderTitle(question, organizationID)
	if title != "" {
		if !question.Required {
			title += " (Optional)"
		}
		title = "<p>" + title + "</p>"
	}
	return FormQuestion{
		ID:       question.ID,
		Title:    title,
		Type:     question.Type,
		Required: question.Required,
		Answer:   answers[question.ID],
	}
}

// renderTitle substitutes the first occurrence of each <<placeholderId>>.
func (c composer) renderTitle(question store.Question, organizationID string) string {
	title := question.Title
	for _, placeholderID := range question.Placeholders {
		token := "<<" + placeholderID + ">>"
		switch c.placeholders[placeholderID] {
		case store.PlaceholderOrganization:
			title = strings.Replace(title, token, c.graph.organizations[organizationID].Name, 1)
		case store.PlaceholderMembers:
			title = strings.Replace(title, token, c.membersLabel(organizationID), 1)
		}
	}
	return title
}

func (c composer) membersLabel(organizationID string) string {
	names := make([]string, 0)
	for _, userID := range c.graph.orgMembers[organizationID] {
		if name := c.graph.users[userID].Name(); name != "" {
			names = append(names, name)
		}
	}
	return "<strong>(" + strings.Join(names, ", ") + ")</strong>"
}

func (c composer) organizationTypeNames(org store.Organization) []string {
	names := make([]string, 0, len(org.OrganizationTypeIDs))
	for _, typeID := range org.OrganizationTypeIDs {
		if name, ok := c.typeNames[typeID]; ok {
			names = append(names, name)
		}
	}
	return names
}

func questionIDs(obligations []Obligation) []string {
	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, obligation := range obligations {
		for _, id := range obligation.Questions {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
