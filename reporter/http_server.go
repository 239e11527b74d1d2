// This is a http type of reporter.
// It fetches data from the store and the monitor
// and publishes on the http routes.

package reporter

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/monitor"
	"github.com/nockbridge/bridge-go/store"
)

const (
	ROUTE_HEALTH          = "/health"
	ROUTE_STATE           = "/state/:chain"
	ROUTE_STATE_HISTORY   = "/state/:chain/history"
	ROUTE_TRANSACTIONS    = "/transactions"
	ROUTE_TRANSACTION     = "/transactions/:id"
	ROUTE_ALERTS          = "/alerts"
	ROUTE_ALERT_ACK       = "/alerts/:id/ack"
	ROUTE_ALERT_RESOLVE   = "/alerts/:id/resolve"
	ROUTE_METRICS_HISTORY = "/metrics/:kind/history"
	ROUTE_PROMETHEUS      = "/metrics"
	ROUTE_WS              = "/ws"
)

const defaultHistoryLimit = 100

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	st  *store.Store
	mon *monitor.Monitor
}

func NewHttpReporter(serverIP string, serverPort string, st *store.Store, mon *monitor.Monitor) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		st:         st,
		mon:        mon,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HEALTH, h.Health)
	router.GET(ROUTE_STATE, h.ChainState)
	router.GET(ROUTE_STATE_HISTORY, h.ChainStateHistory)
	router.GET(ROUTE_TRANSACTIONS, h.Transactions)
	router.GET(ROUTE_TRANSACTION, h.Transaction)
	router.GET(ROUTE_ALERTS, h.Alerts)
	router.POST(ROUTE_ALERT_ACK, h.AcknowledgeAlert)
	router.POST(ROUTE_ALERT_RESOLVE, h.ResolveAlert)
	router.GET(ROUTE_METRICS_HISTORY, h.MetricsHistory)
	router.GET(ROUTE_PROMETHEUS, gin.WrapH(promhttp.Handler()))
	router.GET(ROUTE_WS, h.Websocket)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

func (h *HttpReporter) Health(c *gin.Context) {
	snap, err := h.mon.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (h *HttpReporter) ChainState(c *gin.Context) {
	cs, ok, err := h.st.GetChainState(c.Param("chain"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No state for chain"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cs})
}

func (h *HttpReporter) ChainStateHistory(c *gin.Context) {
	from := queryInt64(c, "from", 0)
	to := queryInt64(c, "to", common.NowMillis())
	limit := int(queryInt64(c, "limit", defaultHistoryLimit))

	history, err := h.st.GetChainStateHistory(c.Param("chain"), from, to, limit, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (h *HttpReporter) Transactions(c *gin.Context) {
	status := c.Query("status")
	chain := c.Query("chain")
	limit := int(queryInt64(c, "limit", defaultHistoryLimit))

	var txs []*store.TransactionState
	var err error
	switch {
	case status != "":
		txs, err = h.st.GetTransactionsByStatus(store.TxStatus(status), limit)
	case chain != "":
		txs, err = h.st.GetTransactionsByChain(chain, limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either status or chain must be provided"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (h *HttpReporter) Transaction(c *gin.Context) {
	tx, ok, err := h.st.GetTransaction(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No transaction found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tx})
}

func (h *HttpReporter) Alerts(c *gin.Context) {
	limit := int(queryInt64(c, "limit", defaultHistoryLimit))

	var alerts []*store.MonitoringAlert
	var err error
	switch {
	case c.Query("type") != "":
		alerts, err = h.st.GetAlertsByType(store.AlertType(c.Query("type")), limit)
	case c.Query("severity") != "":
		alerts, err = h.st.GetAlertsBySeverity(store.AlertSeverity(c.Query("severity")), limit)
	default:
		alerts, err = h.st.GetActiveAlerts()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (h *HttpReporter) AcknowledgeAlert(c *gin.Context) {
	alert, err := h.mon.Acknowledge(c.Param("id"))
	if err != nil {
		c.JSON(alertErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alert})
}

type resolveRequest struct {
	By   string `json:"by"`
	Note string `json:"note"`
}

func (h *HttpReporter) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	// body is optional; an empty resolver is allowed
	_ = c.ShouldBindJSON(&req)

	alert, err := h.mon.Resolve(c.Param("id"), req.By, req.Note)
	if err != nil {
		c.JSON(alertErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alert})
}

func (h *HttpReporter) MetricsHistory(c *gin.Context) {
	from := queryInt64(c, "from", 0)
	to := queryInt64(c, "to", common.NowMillis())

	points, err := h.st.GetMetricsHistory(c.Param("kind"), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": points})
}

func alertErrStatus(err error) int {
	switch err {
	case monitor.ErrAlertNotFound:
		return http.StatusNotFound
	case monitor.ErrAlertResolved:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func queryInt64(c *gin.Context, name string, fallback int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
