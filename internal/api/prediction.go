package api

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"fraud-pipeline/internal/core"
	"fraud-pipeline/internal/prediction"
	"fraud-pipeline/internal/storage"
	"fraud-pipeline/pkg/api"
)

var predictTemplate = template.Must(template.New("predict").Parse(`<!DOCTYPE html>
<html>
<head><title>Fraud detection</title></head>
<body>
<h1>Transaction check</h1>
<form method="post">
  <label>Transaction time <input name="trans_date_trans_time" value="{{.Request.TransDateTransTime}}" placeholder="2020-06-21 12:14:25"></label><br>
  <label>Date of birth <input name="dob" value="{{.Request.Dob}}" placeholder="1968-03-19"></label><br>
  <label>Amount <input name="amt" type="number" step="any" value="{{.Request.Amt}}"></label><br>
  <label>City population <input name="city_pop" type="number" step="any" value="{{.Request.CityPop}}"></label><br>
  <label>Merchant longitude <input name="merch_long" type="number" step="any" value="{{.Request.MerchLong}}"></label><br>
  <button type="submit">Predict</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Prediction}}<p class="result">{{.Prediction}}</p>{{end}}
</body>
</html>
`))

type predictPage struct {
	Request    api.PredictionRequest
	Prediction string
	Error      string
}

var errPredictionDisabled = errors.New("prediction is not configured on this server")

// servingPredictor fails with 503 when the server was started without a
// prediction section.
func (s *BackendService) servingPredictor() (*prediction.Predictor, error) {
	if s.predictor == nil {
		return nil, CodedError(http.StatusServiceUnavailable, errPredictionDisabled)
	}
	return s.predictor, nil
}

func toRecord(req api.PredictionRequest) core.RawRecord {
	return core.RawRecord{
		TransactionTime: req.TransDateTransTime,
		DateOfBirth:     req.Dob,
		Amount:          req.Amt,
		CityPop:         req.CityPop,
		MerchLong:       req.MerchLong,
	}
}

func (s *BackendService) predict(r *http.Request, req api.PredictionRequest) (api.PredictionResponse, error) {
	if req.TransDateTransTime == "" || req.Dob == "" {
		return api.PredictionResponse{}, CodedErrorf(http.StatusUnprocessableEntity, "trans_date_trans_time and dob are required")
	}

	predictor, err := s.servingPredictor()
	if err != nil {
		return api.PredictionResponse{}, err
	}

	result, err := predictor.Predict(r.Context(), toRecord(req))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return api.PredictionResponse{}, CodedErrorf(http.StatusServiceUnavailable, "no model has been published yet")
		}
		var dateErr *core.DateError
		if errors.As(err, &dateErr) {
			return api.PredictionResponse{}, CodedErrorf(http.StatusUnprocessableEntity, "%v", err)
		}
		slog.Error("error running prediction", "error", err)
		return api.PredictionResponse{}, CodedErrorf(http.StatusInternalServerError, "prediction failed")
	}

	s.metrics.ObservePrediction(result.Label)
	return api.PredictionResponse{Prediction: result.Label, Fraudulent: result.Fraudulent, Probability: result.Probability}, nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictionRequest](r)
	if err != nil {
		return nil, err
	}
	return s.predict(r, req)
}

// PredictForm renders the html form, and the prediction when the form is
// submitted.
func (s *BackendService) PredictForm(w http.ResponseWriter, r *http.Request) {
	var page predictPage
	status := http.StatusOK

	if r.Method == http.MethodPost {
		req, err := ParseRequestForm[api.PredictionRequest](r)
		page.Request = req
		if err == nil {
			var res api.PredictionResponse
			res, err = s.predict(r, req)
			page.Prediction = res.Prediction
		}
		if err != nil {
			page.Error = err.Error()
			status = http.StatusBadRequest
			var cerr *codedError
			if errors.As(err, &cerr) {
				status = cerr.code
			}
		}
	}

	var buf bytes.Buffer
	if err := predictTemplate.Execute(&buf, page); err != nil {
		slog.Error("error rendering prediction form", "error", err)
		http.Error(w, "error rendering page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("error writing prediction page", "error", err)
	}
}

func (s *BackendService) ListModelArtifacts(r *http.Request) (any, error) {
	predictor, err := s.servingPredictor()
	if err != nil {
		return nil, err
	}

	objects, err := predictor.Published(r.Context())
	if err != nil {
		slog.Error("error listing published model artifacts", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing model artifacts")
	}

	res := make([]api.ModelArtifact, 0, len(objects))
	for _, obj := range objects {
		res = append(res, api.ModelArtifact{Key: obj.Name, Size: obj.Size})
	}
	return res, nil
}

func (s *BackendService) ReloadModel(r *http.Request) (any, error) {
	predictor, err := s.servingPredictor()
	if err != nil {
		return nil, err
	}

	if err := predictor.Reload(); err != nil {
		slog.Error("error reloading model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to reload model")
	}
	return nil, nil
}
