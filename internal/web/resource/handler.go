// Package resource serves a repository over HTTP. Each handler parses the
// request into repository options, runs the operation and renders the
// record, list or classified error as JSON.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/orm/crud"
	"github.com/conduit-lang/datasource/internal/orm/filter"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/web/middleware"
	"github.com/conduit-lang/datasource/internal/web/query"
	"github.com/conduit-lang/datasource/internal/web/response"
	"github.com/conduit-lang/datasource/internal/web/router"
)

// maxBodyBytes bounds create and update payloads
const maxBodyBytes = 1 << 20

// Options configures a Handler
type Options struct {
	// QFields are the fields searched by the q parameter
	QFields []string
	Logger  *zap.Logger
}

// Handler serves one repository
type Handler struct {
	repo    *crud.Repository
	qFields []string
	logger  *zap.Logger
}

// New creates a handler for repo
func New(repo *crud.Repository, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:    repo,
		qFields: opts.QFields,
		logger:  logger.With(zap.String("resource", repo.Entity().Name())),
	}
}

// Handlers returns the handler of every resource operation
func (h *Handler) Handlers() router.ResourceHandlers {
	return router.ResourceHandlers{
		List:   h.List,
		Count:  h.Count,
		Show:   h.Show,
		Create: h.Create,
		Update: h.Update,
		Delete: h.Delete,
	}
}

// Register adds the handler's routes to r at prefix + "/" + table
func (h *Handler) Register(r *router.Router, prefix string) error {
	def := router.NewResourceDefinition(h.repo.Entity().Name())
	def.BasePath = prefix + "/" + h.repo.Entity().Table()
	return r.RegisterResource(def, h.Handlers())
}

// List answers GET /{resource}. total=true adds the matching count.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := query.ParseList(r, h.qFields)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	records, err := h.repo.Find(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	body := response.ListResponse{Data: records}
	if cast.ToBool(r.URL.Query().Get("total")) {
		total, err := h.repo.Count(r.Context(), crud.CountOptions{Where: opts.Where, Q: opts.Q, QFields: opts.QFields})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		body.Total = &total
	}
	response.JSON(w, http.StatusOK, body)
}

// Count answers GET /{resource}/count
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	opts, err := query.ParseCount(r, h.qFields)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	count, err := h.repo.Count(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.CountResponse{Count: count})
}

// Show answers GET /{resource}/{id}
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	opts, err := query.ParseGet(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	id, err := h.id(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts.Where = append(filter.Filter{filter.Eq(h.repo.IDField(), id)}, opts.Where...)

	record, err := h.repo.FindOne(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, record)
}

// Create answers POST /{resource}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	record, err := h.repo.Save(r.Context(), h.repo.Create(data))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, record)
}

// Update answers PUT /{resource}/{id}. The body is merged over the stored
// attributes before saving.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	data, err := decodeBody(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	stored, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	values := crud.Record{}
	for _, name := range h.repo.Entity().AttributeNames() {
		if v, ok := stored[name]; ok {
			values[name] = v
		}
	}
	for k, v := range data {
		values[k] = v
	}
	// the path decides which record is written
	pk := h.repo.Entity().PrimaryKey()
	values[pk] = stored[pk]

	record, err := h.repo.Save(r.Context(), h.repo.Instance(values))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, record)
}

// Delete answers DELETE /{resource}/{id} with the removed record
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	stored, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	inst, err := h.repo.Remove(r.Context(), h.repo.Instance(stored))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, inst.Values)
}

// find loads the record addressed by the path with its primary key
func (h *Handler) find(r *http.Request) (crud.Record, error) {
	id, err := h.id(r)
	if err != nil {
		return nil, err
	}
	return h.repo.FindOne(r.Context(), crud.GetOptions{
		Where: filter.Filter{filter.Eq(h.repo.IDField(), id)},
	})
}

// id converts the {id} path parameter to the id field's type
func (h *Handler) id(r *http.Request) (interface{}, error) {
	raw := router.URLParam(r, "id")
	field, ok := h.repo.Entity().Field(h.repo.IDField())
	if !ok {
		return raw, nil
	}
	switch field.Type.BaseType {
	case schema.TypeInt, schema.TypeBigInt:
		id, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, &crud.ValidationError{Errors: []crud.FieldError{{
				Field: h.repo.IDField(), Message: "must be an integer", Type: "invalid", Value: raw,
			}}}
		}
		return id, nil
	default:
		return raw, nil
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	result := crud.ClassifyError(err)
	h.logger.Debug("request failed",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Int("status", result.Status),
		zap.Error(err),
	)
	response.Classified(w, result)
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.UseNumber()

	var data map[string]interface{}
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if data == nil {
		return nil, errEmptyBody
	}
	return query.NormalizeNumbers(data).(map[string]interface{}), nil
}
