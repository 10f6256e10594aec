package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"parkly/internal/billing"
	"parkly/internal/config"
	"parkly/internal/models"
	"parkly/internal/session"
	"parkly/internal/store"

	"github.com/go-chi/chi/v5"
)

const maxImageSize = 10 << 20

type reservationResponse struct {
	ID            int64      `json:"id"`
	Status        string     `json:"status"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	UserID        *int64     `json:"user_id,omitempty"`
	CarID         int64      `json:"car_id"`
	ParkingSpotID int64      `json:"parking_spot_id"`
	RateID        int64      `json:"rate_id"`
	Debit         string     `json:"debit"`
	Credit        string     `json:"credit"`
	Balance       string     `json:"balance"`
}

func toReservation(r *models.Reservation) reservationResponse {
	return reservationResponse{
		ID:            r.ID,
		Status:        string(r.Status),
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		UserID:        r.UserID,
		CarID:         r.CarID,
		ParkingSpotID: r.ParkingSpotID,
		RateID:        r.RateID,
		Debit:         models.FormatMoney(r.Debit),
		Credit:        models.FormatMoney(r.Credit),
		Balance:       models.FormatMoney(r.Balance()),
	}
}

// sessionResponse is a reservation together with the event that moved it.
type sessionResponse struct {
	reservationResponse
	Event *models.Event `json:"event"`
}

// ownerFilter restricts users to their own reservations.
func ownerFilter(r *http.Request) *int64 {
	p, _ := principalFrom(r.Context())
	if p.Role == models.RoleUser {
		return &p.UserID
	}
	return nil
}

// ownedReservation loads the {id} reservation the caller may touch.
func (s *Server) ownedReservation(r *http.Request) (*models.Reservation, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	return s.Sessions.OwnedReservation(r.Context(), id, ownerFilter(r))
}

type sessionRequest struct {
	Plate  string `json:"plate"`
	RateID *int64 `json:"rate_id,omitempty"`
	UserID *int64 `json:"user_id,omitempty"`
	image  []byte
}

// readSessionRequest accepts JSON or a multipart form with an img_file part.
func readSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, error) {
	var req sessionRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		err := decodeJSON(w, r, &req)
		return req, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1<<20)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		return req, fmt.Errorf("%w: multipart form: %v", models.ErrInvalidInput, err)
	}
	req.Plate = r.FormValue("plate")
	if v := r.FormValue("rate_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: rate_id", models.ErrInvalidInput)
		}
		req.RateID = &id
	}

	file, _, err := r.FormFile("img_file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return req, fmt.Errorf("%w: img_file: %v", models.ErrInvalidInput, err)
	default:
		defer file.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, file); err != nil {
			return req, fmt.Errorf("%w: img_file: %v", models.ErrInvalidInput, err)
		}
		req.image = buf.Bytes()
	}
	return req, nil
}

func (s *Server) checkIn(w http.ResponseWriter, r *http.Request) {
	req, err := readSessionRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	// users always park on their own account
	userID := req.UserID
	if own := ownerFilter(r); own != nil {
		userID = own
	}

	res, ev, err := s.Sessions.CheckIn(r.Context(), session.CheckInRequest{
		Plate:  req.Plate,
		Image:  req.image,
		RateID: req.RateID,
		UserID: userID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{reservationResponse: toReservation(res), Event: ev})
}

func (s *Server) checkOut(w http.ResponseWriter, r *http.Request) {
	req, err := readSessionRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, ev, err := s.Sessions.CheckOut(r.Context(), session.CheckOutRequest{
		Plate:  req.Plate,
		Image:  req.image,
		UserID: ownerFilter(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{reservationResponse: toReservation(res), Event: ev})
}

func (s *Server) listOpenReservations(w http.ResponseWriter, r *http.Request) {
	list, err := s.Sessions.ListOpen(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]reservationResponse, 0, len(list))
	for i := range list {
		out = append(out, toReservation(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.ownedReservation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservation(res))
}

type balanceResponse struct {
	ReservationID int64  `json:"reservation_id"`
	Debit         string `json:"debit"`
	Credit        string `json:"credit"`
	Balance       string `json:"balance"`
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	res, err := s.ownedReservation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := res.ID

	debit, credit, err := s.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		ReservationID: id,
		Debit:         models.FormatMoney(debit),
		Credit:        models.FormatMoney(credit),
		Balance:       models.FormatMoney(debit.Sub(credit)),
	})
}

type transactionResponse struct {
	ID      int64      `json:"id"`
	TrxDate time.Time  `json:"trx_date"`
	Type    string     `json:"type"`
	Debit   string     `json:"debit"`
	Credit  string     `json:"credit"`
	UserID  *int64     `json:"user_id,omitempty"`
	Period  *time.Time `json:"period,omitempty"`
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	res, err := s.ownedReservation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.Ledger.History(r.Context(), res.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, transactionResponse{
			ID:      t.ID,
			TrxDate: t.TrxDate,
			Type:    string(t.Type),
			Debit:   models.FormatMoney(t.Debit),
			Credit:  models.FormatMoney(t.Credit),
			UserID:  t.UserID,
			Period:  t.Period,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.Sessions.Events(r.Context(), id, ownerFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

type reconcileResponse struct {
	ReservationID int64  `json:"reservation_id"`
	Drifted       bool   `json:"drifted"`
	Debit         string `json:"debit"`
	Credit        string `json:"credit"`
}

// reconcile rewrites the cached balance of a reservation from its ledger.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	drifted, err := s.Ledger.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Sessions.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		ReservationID: id,
		Drifted:       drifted,
		Debit:         models.FormatMoney(res.Debit),
		Credit:        models.FormatMoney(res.Credit),
	})
}

type paymentRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) postPayment(w http.ResponseWriter, r *http.Request) {
	owned, err := s.ownedReservation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := owned.ID
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := models.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	p, _ := principalFrom(r.Context())
	res, err := s.Ledger.RecordPayment(r.Context(), id, amount, &p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservation(res))
}

type tickResponse struct {
	TickID     string      `json:"tick_id"`
	Period     time.Time   `json:"period"`
	Open       int         `json:"open"`
	Charged    int         `json:"charged"`
	Skipped    int         `json:"skipped"`
	Warnings   int         `json:"warnings"`
	Errors     []tickError `json:"errors"`
	DurationMS int64       `json:"duration_ms"`
}

type tickError struct {
	ReservationID int64  `json:"reservation_id"`
	Error         string `json:"error"`
}

func (s *Server) runChargeTick(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Ticks.RunNow(r.Context())
	if errors.Is(err, billing.ErrTickInProgress) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: string(models.KindConflict)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := tickResponse{
		TickID:     summary.TickID,
		Period:     summary.Period,
		Open:       summary.Open,
		Charged:    summary.Charged,
		Skipped:    summary.Skipped,
		Warnings:   summary.Warnings,
		Errors:     make([]tickError, 0, len(summary.Errors)),
		DurationMS: summary.Duration.Milliseconds(),
	}
	for _, e := range summary.Errors {
		resp.Errors = append(resp.Errors, tickError{ReservationID: e.ReservationID, Error: e.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSpots(w http.ResponseWriter, r *http.Request) {
	list, err := s.Spots.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) listOccupiedSpots(w http.ResponseWriter, r *http.Request) {
	list, err := s.Spots.ListOccupied(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

type spotRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) createSpot(w http.ResponseWriter, r *http.Request) {
	var req spotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	spot := &models.ParkingSpot{Title: req.Title, Description: req.Description}
	if err := s.Spots.Create(r.Context(), spot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, spot)
}

func (s *Server) updateSpotInfo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req spotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	spot, err := s.Spots.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	spot.Title, spot.Description = req.Title, req.Description
	if err := s.Spots.Update(r.Context(), spot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spot)
}

func (s *Server) setSpotAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Available bool `json:"available"`
	}
	s.updateSpot(w, r, &req, func(id int64) error {
		return s.Spots.SetAvailable(r.Context(), id, req.Available)
	})
}

func (s *Server) setSpotService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OutOfService bool `json:"out_of_service"`
	}
	s.updateSpot(w, r, &req, func(id int64) error {
		return s.Spots.SetOutOfService(r.Context(), id, req.OutOfService)
	})
}

func (s *Server) updateSpot(w http.ResponseWriter, r *http.Request, body any, apply func(id int64) error) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := decodeJSON(w, r, body); err != nil {
		writeError(w, err)
		return
	}
	if err := apply(id); err != nil {
		writeError(w, err)
		return
	}
	spot, err := s.Spots.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spot)
}

func (s *Server) deleteSpot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Spots.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRates(w http.ResponseWriter, r *http.Request) {
	list, err := s.Catalog.ListRates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) getRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := s.Catalog.GetRate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) createRate(w http.ResponseWriter, r *http.Request) {
	var req config.RateConfig
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	rate := &models.Rate{Title: req.Title, Description: req.Description, IsDaily: req.IsDaily}
	for _, d := range req.Details {
		detail, err := d.ToModel()
		if err != nil {
			writeError(w, err)
			return
		}
		rate.Details = append(rate.Details, *detail)
	}

	if err := s.Catalog.CreateRate(r.Context(), rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rate)
}

type rateUpdateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsDaily     bool   `json:"is_daily"`
}

func (s *Server) updateRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req rateUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rate, err := s.Catalog.GetRate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rate.Title, rate.Description, rate.IsDaily = req.Title, req.Description, req.IsDaily
	if err := s.Catalog.UpdateRate(r.Context(), rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) deleteRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Catalog.DeleteRate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addRateDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req config.RateDetailConfig
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	detail, err := req.ToModel()
	if err != nil {
		writeError(w, err)
		return
	}
	detail.RateID = id
	if err := s.Catalog.AddDetail(r.Context(), detail); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// rateDetail resolves {id}/{detailID} to a detail of that rate.
func (s *Server) rateDetail(r *http.Request) (*models.RateDetail, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	detailID, err := pathID(r, "detailID")
	if err != nil {
		return nil, err
	}
	rate, err := s.Catalog.GetRate(r.Context(), id)
	if err != nil {
		return nil, err
	}
	for i := range rate.Details {
		if rate.Details[i].ID == detailID {
			return &rate.Details[i], nil
		}
	}
	return nil, models.ErrRateDetailNotFound
}

func (s *Server) updateRateDetail(w http.ResponseWriter, r *http.Request) {
	current, err := s.rateDetail(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req config.RateDetailConfig
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	detail, err := req.ToModel()
	if err != nil {
		writeError(w, err)
		return
	}
	detail.ID, detail.RateID, detail.CreatedAt = current.ID, current.RateID, current.CreatedAt
	if err := s.Catalog.UpdateDetail(r.Context(), detail); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteRateDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.rateDetail(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.Catalog.DeleteDetail(r.Context(), detail.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blockCar(w http.ResponseWriter, r *http.Request) {
	car, err := s.Sessions.BlockCar(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) unblockCar(w http.ResponseWriter, r *http.Request) {
	car, err := s.Sessions.UnblockCar(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) reservationsExcel(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.Reports.WriteExcel(r.Context(), filter, &buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="reservations.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) reservationsSheets(w http.ResponseWriter, r *http.Request) {
	if s.Sheets == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "google sheets export is not configured", Kind: "unavailable"})
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.Reports.Statement(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Sheets.Export(r.Context(), rows); err != nil {
		s.logger.Error().Err(err).Msg("sheets export failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "sheets export failed", Kind: string(models.KindInfrastructure)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rows": len(rows)})
}

// parseFilter reads car_id, user_id, from and to. Both dates are inclusive.
func parseFilter(r *http.Request) (store.ReservationFilter, error) {
	var f store.ReservationFilter
	q := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  *int64
	}{{"car_id", &f.CarID}, {"user_id", &f.UserID}} {
		if v := q.Get(p.name); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				return f, fmt.Errorf("%w: %s", models.ErrInvalidInput, p.name)
			}
			*p.dst = id
		}
	}

	if v := q.Get("from"); v != "" {
		t, err := models.ParseDate(v)
		if err != nil {
			return f, fmt.Errorf("%w: from", models.ErrInvalidInput)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := models.ParseDate(v)
		if err != nil {
			return f, fmt.Errorf("%w: to", models.ErrInvalidInput)
		}
		f.To = t.AddDate(0, 0, 1)
	}
	return f, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", models.ErrInvalidInput, name)
	}
	return id, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
