package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/service"
)

// PersonHandler handles person API endpoints.
type PersonHandler struct {
	personService *service.PersonService
}

// NewPersonHandler creates a new person handler.
func NewPersonHandler(personService *service.PersonService) *PersonHandler {
	return &PersonHandler{
		personService: personService,
	}
}

// Register registers the person routes with the API.
func (h *PersonHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "registerPerson",
		Method:      "POST",
		Path:        "/api/v1/persons",
		Summary:     "Register person",
		Description: "Registers a person, optionally with reference face images",
		Tags:        []string{"Persons"},
	}, h.RegisterPerson)

	huma.Register(api, huma.Operation{
		OperationID: "listPersons",
		Method:      "GET",
		Path:        "/api/v1/persons",
		Summary:     "List persons",
		Description: "Returns all registered persons",
		Tags:        []string{"Persons"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getPerson",
		Method:      "GET",
		Path:        "/api/v1/persons/{name}",
		Summary:     "Get person",
		Description: "Returns a person by name or alias",
		Tags:        []string{"Persons"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "getPersonFiles",
		Method:      "GET",
		Path:        "/api/v1/persons/{name}/files",
		Summary:     "Get person files",
		Description: "Returns the ids of files tagged with the person",
		Tags:        []string{"Persons"},
	}, h.Files)
}

// RegisterPersonInput is the input for registering a person.
type RegisterPersonInput struct {
	Body struct {
		Name    string   `json:"name" minLength:"1" doc:"Canonical name"`
		Aliases []string `json:"aliases,omitempty" doc:"Alternative names the person is known by"`
		Images  [][]byte `json:"images,omitempty" doc:"Reference face images, base64-encoded"`
	}
}

// RegisterPersonOutput is the output for registering a person.
type RegisterPersonOutput struct {
	Body struct {
		PersonResponse
		FacesAdded int `json:"faces_added"`
	}
}

// RegisterPerson registers a person with optional reference faces.
func (h *PersonHandler) RegisterPerson(ctx context.Context, input *RegisterPersonInput) (*RegisterPersonOutput, error) {
	person, faces, err := h.personService.Register(ctx, input.Body.Name, input.Body.Aliases, input.Body.Images)
	if err != nil {
		return nil, apiError(err, "failed to register person")
	}

	resp := &RegisterPersonOutput{}
	resp.Body.PersonResponse = PersonFromModel(person)
	resp.Body.FacesAdded = faces
	return resp, nil
}

// ListPersonsInput is the input for listing persons.
type ListPersonsInput struct{}

// ListPersonsOutput is the output for listing persons.
type ListPersonsOutput struct {
	Body struct {
		Persons []PersonResponse `json:"persons"`
	}
}

// List returns all registered persons.
func (h *PersonHandler) List(ctx context.Context, input *ListPersonsInput) (*ListPersonsOutput, error) {
	persons, err := h.personService.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list persons", err)
	}

	resp := &ListPersonsOutput{}
	resp.Body.Persons = make([]PersonResponse, 0, len(persons))
	for _, p := range persons {
		resp.Body.Persons = append(resp.Body.Persons, PersonFromModel(p))
	}
	return resp, nil
}

// GetPersonInput is the input for getting a person.
type GetPersonInput struct {
	Name string `path:"name" doc:"Person name or alias"`
}

// GetPersonOutput is the output for getting a person.
type GetPersonOutput struct {
	Body PersonResponse
}

// Get returns a person by name or alias.
func (h *PersonHandler) Get(ctx context.Context, input *GetPersonInput) (*GetPersonOutput, error) {
	person, err := h.personService.Get(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, "failed to get person")
	}
	return &GetPersonOutput{Body: PersonFromModel(person)}, nil
}

// GetPersonFilesInput is the input for getting a person's files.
type GetPersonFilesInput struct {
	Name string `path:"name" doc:"Person name or alias"`
}

// GetPersonFilesOutput is the output for getting a person's files.
type GetPersonFilesOutput struct {
	Body struct {
		PersonID models.ULID   `json:"person_id"`
		FileIDs  []models.ULID `json:"file_ids"`
	}
}

// Files returns the ids of files tagged with the person.
func (h *PersonHandler) Files(ctx context.Context, input *GetPersonFilesInput) (*GetPersonFilesOutput, error) {
	person, err := h.personService.Get(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, "failed to get person")
	}

	fileIDs, err := h.personService.Files(ctx, person.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get person files", err)
	}
	if fileIDs == nil {
		fileIDs = []models.ULID{}
	}

	resp := &GetPersonFilesOutput{}
	resp.Body.PersonID = person.ID
	resp.Body.FileIDs = fileIDs
	return resp, nil
}
