// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) get(path string) (string, error) {
	url := "http://" + hr.serverIP + ":" + hr.serverPort + path

	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (hr *HttpReader) GetHealth() (string, error) {
	return hr.get(ROUTE_HEALTH)
}

func (hr *HttpReader) GetChainState(chain string) (string, error) {
	return hr.get("/state/" + chain)
}

func (hr *HttpReader) GetTransaction(id string) (string, error) {
	return hr.get("/transactions/" + id)
}

func (hr *HttpReader) GetActiveAlerts() (string, error) {
	return hr.get(ROUTE_ALERTS)
}
