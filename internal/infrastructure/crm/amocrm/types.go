package amocrm

import (
	"github.com/shopspring/decimal"

	"github.com/turtacn/loan-portal/internal/domain/deal"
)

// FieldCodePhone is the contact field carrying phone numbers.
const FieldCodePhone = "PHONE"

// Contact is an amoCRM contact.
type Contact struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	CustomFieldsValues []deal.CustomField `json:"custom_fields_values"`
}

// Phone returns the first PHONE value of the contact.
func (c Contact) Phone() string {
	v, _ := deal.ExtractField(c.CustomFieldsValues, "", FieldCodePhone)
	return v
}

// Email returns the first EMAIL value of the contact.
func (c Contact) Email() string {
	v, _ := deal.ExtractField(c.CustomFieldsValues, "", "EMAIL")
	return v
}

// EntityRef is an embedded reference to another entity.
type EntityRef struct {
	ID int64 `json:"id"`
}

// Lead is an amoCRM lead.
type Lead struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	Price              decimal.Decimal    `json:"price"`
	StatusID           int64              `json:"status_id"`
	PipelineID         int64              `json:"pipeline_id"`
	ResponsibleUserID  int64              `json:"responsible_user_id"`
	CreatedAt          int64              `json:"created_at"`
	UpdatedAt          int64              `json:"updated_at"`
	CustomFieldsValues []deal.CustomField `json:"custom_fields_values"`
	Embedded           struct {
		Contacts []EntityRef `json:"contacts"`
	} `json:"_embedded"`
}

// MainContactID is the first linked contact, or 0.
func (l Lead) MainContactID() int64 {
	if len(l.Embedded.Contacts) == 0 {
		return 0
	}
	return l.Embedded.Contacts[0].ID
}

// Status is a pipeline stage.
type Status struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Pipeline is a lead funnel with its stages.
type Pipeline struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Statuses []Status `json:"statuses"`
	} `json:"_embedded"`
}

type statusKey struct {
	pipelineID int64
	statusID   int64
}

// StatusDirectory resolves status and pipeline ids to display labels.
type StatusDirectory struct {
	pipelines map[int64]string
	statuses  map[statusKey]Status
}

// NewStatusDirectory indexes pipelines.
func NewStatusDirectory(pipelines []Pipeline) StatusDirectory {
	d := StatusDirectory{
		pipelines: make(map[int64]string, len(pipelines)),
		statuses:  make(map[statusKey]Status),
	}
	for _, p := range pipelines {
		d.pipelines[p.ID] = p.Name
		for _, s := range p.Embedded.Statuses {
			d.statuses[statusKey{p.ID, s.ID}] = s
		}
	}
	return d
}

// Status looks up a stage of a pipeline.
func (d StatusDirectory) Status(pipelineID, statusID int64) (Status, bool) {
	s, ok := d.statuses[statusKey{pipelineID, statusID}]
	return s, ok
}

// PipelineName looks up a pipeline label.
func (d StatusDirectory) PipelineName(pipelineID int64) string {
	return d.pipelines[pipelineID]
}

// ToRawDeal converts a lead into the engine's raw record with resolved
// labels.  Unknown statuses keep empty labels and classify as other.
func ToRawDeal(l Lead, dir StatusDirectory) deal.RawDeal {
	raw := deal.RawDeal{
		ID:                l.ID,
		Name:              l.Name,
		Price:             l.Price,
		StatusID:          l.StatusID,
		PipelineID:        l.PipelineID,
		PipelineName:      dir.PipelineName(l.PipelineID),
		ResponsibleUserID: l.ResponsibleUserID,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
		CustomFields:      l.CustomFieldsValues,
	}
	if s, ok := dir.Status(l.PipelineID, l.StatusID); ok {
		raw.StatusName = s.Name
		raw.StatusColor = s.Color
	}
	return raw
}

type halContacts struct {
	Embedded struct {
		Contacts []Contact `json:"contacts"`
	} `json:"_embedded"`
}

type halLeads struct {
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
	Embedded struct {
		Leads []Lead `json:"leads"`
	} `json:"_embedded"`
}

type halPipelines struct {
	Embedded struct {
		Pipelines []Pipeline `json:"pipelines"`
	} `json:"_embedded"`
}
