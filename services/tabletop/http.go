package tabletop

import (
	"encoding/json"
	"net/http"

	"github.com/golang/geo/r3"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"go.viam.com/tabletop/logging"
	pc "go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
	"go.viam.com/tabletop/vision/segmentation"
)

// MaxRequestBytes bounds the size of an uploaded PCD body.
const MaxRequestBytes = 256 << 20

// ObjectJSON is one segmented object as sent over HTTP.
type ObjectJSON struct {
	Label    int          `json:"label"`
	Size     int          `json:"size"`
	Centroid [3]float64   `json:"centroid"`
	Points   [][3]float64 `json:"points,omitempty"`
}

// SegmentResponseJSON is the body of a successful POST /segment.
type SegmentResponseJSON struct {
	RequestID         string                  `json:"request_id"`
	PlaneCoefficients [4]float64              `json:"plane_coefficients"`
	PlanePoints       int                     `json:"plane_points"`
	Objects           []ObjectJSON            `json:"objects"`
	Dropped           segmentation.DropStats  `json:"dropped"`
	Parameters        segmentation.Parameters `json:"parameters"`
}

type errorJSON struct {
	Error string `json:"error"`
}

type handler struct {
	service *Service
	logger  logging.Logger
}

// NewHandler routes the HTTP API of the service:
//
//	POST /segment             PCD body, parameter overrides in the query string,
//	                          points=false omits object points, debug=true logs every stage
//	GET  /parameters          default parameters
//	GET  /parameters/schema   JSON schema of the parameters
//
// Every origin may call it.
func NewHandler(service *Service, logger logging.Logger) http.Handler {
	router := mux.NewRouter()
	POST := router.Methods("POST").Subrouter()
	GET := router.Methods("GET", "HEAD").Subrouter()

	h := handler{service: service, logger: logger}

	POST.HandleFunc("/segment", h.Segment).Name("segment")
	GET.HandleFunc("/parameters", h.Parameters).Name("parameters")
	GET.HandleFunc("/parameters/schema", h.Schema).Name("schema")

	return cors.AllowAll().Handler(router)
}

func (h *handler) Segment(w http.ResponseWriter, r *http.Request) {
	params, err := parametersFromQuery(r)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, err)
		return
	}
	cloud, err := pc.ReadPCD(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		h.httpError(w, http.StatusBadRequest, errors.Wrap(err, "reading pcd body"))
		return
	}

	ctx := r.Context()
	if r.URL.Query().Get("debug") == "true" {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	resp, err := h.service.Segment(ctx, cloud, params)
	switch {
	case errors.Is(err, ErrNoObjects):
		h.httpError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		h.httpError(w, http.StatusInternalServerError, err)
		return
	}

	withPoints := r.URL.Query().Get("points") != "false"
	out := SegmentResponseJSON{
		RequestID:         resp.RequestID.String(),
		PlaneCoefficients: resp.PlaneCoefficients,
		PlanePoints:       resp.PlaneCloud.Size(),
		Objects:           make([]ObjectJSON, 0, len(resp.Objects)),
		Dropped:           resp.Dropped,
		Parameters:        resp.Parameters,
	}
	for _, o := range resp.Objects {
		c := o.Centroid()
		obj := ObjectJSON{Label: o.Label, Size: o.Size(), Centroid: [3]float64{c.X, c.Y, c.Z}}
		if withPoints {
			obj.Points = make([][3]float64, 0, o.Size())
			o.Iterate(0, 0, func(p r3.Vector, _ pc.Data) bool {
				obj.Points = append(obj.Points, [3]float64{p.X, p.Y, p.Z})
				return true
			})
		}
		out.Objects = append(out.Objects, obj)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) Parameters(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, segmentation.DefaultParameters())
}

func (h *handler) Schema(w http.ResponseWriter, r *http.Request) {
	data, err := segmentation.ParametersSchemaJSON()
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	if _, err := w.Write(data); err != nil {
		h.logger.Debugw("writing response failed", "error", err)
	}
}

// parametersFromQuery overrides the defaults with the query values named like the JSON keys of
// segmentation.Parameters. "points" and "debug" only shape the response and the logs.
func parametersFromQuery(r *http.Request) (segmentation.Parameters, error) {
	attrs := utils.AttributeMap{}
	for key, values := range r.URL.Query() {
		if key == "points" || key == "debug" || len(values) == 0 {
			continue
		}
		attrs[key] = values[0]
	}
	return segmentation.ParametersFromAttributes(attrs)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debugw("writing response failed", "error", err)
	}
}

func (h *handler) httpError(w http.ResponseWriter, status int, err error) {
	h.logger.Warnw("request failed", "status", status, "error", err)
	h.writeJSON(w, status, errorJSON{Error: err.Error()})
}
