package kis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kisradar/pkg/logger"
)

const currentPriceBody = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":{
	"rprs_mrkt_kor_name":"삼성전자","stck_prpr":"71000","prdy_vrss":"500","prdy_ctrt":"0.71",
	"prdy_vrss_sign":"2","stck_oprc":"70500","stck_hgpr":"71500","stck_lwpr":"70200",
	"stck_sdpr":"70500","acml_vol":"12345678","acml_tr_pbmn":"876543210000",
	"stck_mxpr":"88000","stck_llam":"54000","per":"12.34","pbr":"1.23","eps":"5750.00",
	"bps":"57000.00","hts_avls":"4238000","lstn_stcn":"5969782550","hts_frgn_ehrt":"52.11","vol_tnrt":"0.21"}}`

const investorBody = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":[
	{"stck_bsop_date":"20260828","stck_clpr":"71000","prdy_ctrt":"0.71","frgn_ntby_qty":"120000","orgn_ntby_qty":"50000","prsn_ntby_qty":"-170000"},
	{"stck_bsop_date":"20260827","stck_clpr":"70500","prdy_ctrt":"-0.28","frgn_ntby_qty":"-30000","orgn_ntby_qty":"10000","prsn_ntby_qty":"20000"}]}`

const chartBody = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리",
	"output1":{"hts_kor_isnm":"삼성전자"},
	"output2":[
		{"stck_bsop_date":"20260828","stck_oprc":"70500","stck_hgpr":"71500","stck_lwpr":"70200","stck_clpr":"71000","acml_vol":"12345678","acml_tr_pbmn":"876543210000","prdy_ctrt":"0.71"},
		{"stck_bsop_date":"20260827","stck_oprc":"70000","stck_hgpr":"70800","stck_lwpr":"69900","stck_clpr":"70500","acml_vol":"11111111","acml_tr_pbmn":"780000000000","prdy_ctrt":"-0.28"}]}`

const genericListBody = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":[]}`
const genericObjBody = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":{},"output1":{},"output2":{}}`

// detailTestServer answers every facet path with a minimal valid body,
// with per-path overrides.
func detailTestServer(t *testing.T, overrides map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := overrides[r.URL.Path]; ok {
			h(w, r)
			return
		}
		switch r.URL.Path {
		case "/uapi/domestic-stock/v1/quotations/inquire-price":
			w.Write([]byte(currentPriceBody))
		case "/uapi/domestic-stock/v1/quotations/inquire-investor":
			w.Write([]byte(investorBody))
		case "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice":
			w.Write([]byte(chartBody))
		case "/uapi/domestic-stock/v1/quotations/inquire-daily-price",
			"/uapi/domestic-stock/v1/finance/financial-ratio",
			"/uapi/domestic-stock/v1/finance/income-statement",
			"/uapi/domestic-stock/v1/quotations/program-trade-by-stock":
			w.Write([]byte(genericListBody))
		default:
			w.Write([]byte(genericObjBody))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestDetailAPI(t *testing.T, server *httptest.Server, sessionOpen bool) *DetailAPI {
	t.Helper()
	client := newTestClient(t, server.URL, storeWithToken("good", time.Hour))
	api := NewDetailAPI(client, logger.NewNop(), time.Millisecond)
	api.sessionOpen = func(time.Time) bool { return sessionOpen }
	return api
}

func TestFetchAllCollectsFacets(t *testing.T) {
	server := detailTestServer(t, nil)
	api := newTestDetailAPI(t, server, false)

	detail, err := api.FetchAll(context.Background(), "005930", 200)
	require.NoError(t, err)

	assert.Equal(t, "005930", detail.StockCode)
	assert.Equal(t, "삼성전자", detail.StockName)
	require.NotNil(t, detail.CurrentPrice)
	assert.Equal(t, int64(71000), detail.CurrentPrice.Price)
	assert.InDelta(t, 12.34, detail.CurrentPrice.PER, 0.001)

	require.NotNil(t, detail.InvestorTrend)
	require.Len(t, detail.InvestorTrend.Daily, 2)
	assert.Equal(t, int64(120000), detail.InvestorTrend.Daily[0].ForeignNet)

	// 파생 수급 요약
	require.NotNil(t, detail.FlowSummary)
	assert.Equal(t, int64(90000), detail.FlowSummary.Sum5d.ForeignNet)

	require.NotNil(t, detail.DailyChart)
	assert.Len(t, detail.DailyChart.Candles, 2)

	// 장외: 추정 facet 미시도
	assert.Nil(t, detail.InvestorEstimate)
	assert.Equal(t, 0, detail.ErrCount())
}

func TestFetchAllIsolatesFacetFailure(t *testing.T) {
	server := detailTestServer(t, map[string]http.HandlerFunc{
		"/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	api := newTestDetailAPI(t, server, false)

	detail, err := api.FetchAll(context.Background(), "005930", 200)
	require.NoError(t, err)

	// 실패 facet은 nil + 오류 기록, 나머지는 정상
	assert.Nil(t, detail.AskingPrice)
	assert.Equal(t, 1, detail.ErrCount())
	assert.Contains(t, detail.FacetErrors, FacetAskingPrice)
	assert.NotNil(t, detail.CurrentPrice)
	assert.NotNil(t, detail.DailyChart)
}

func TestFetchAllEstimateOnlyDuringSession(t *testing.T) {
	var estimateCalls int32
	server := detailTestServer(t, map[string]http.HandlerFunc{
		"/uapi/domestic-stock/v1/quotations/investor-trend-estimate": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&estimateCalls, 1)
			w.Write([]byte(`{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output2":[
				{"bsop_hour_gb":"1430","frgn_fake_ntby_qty":"55000","orgn_fake_ntby_qty":"-12000"}]}`))
		},
	})

	// 장중: 추정 facet 수집
	api := newTestDetailAPI(t, server, true)
	detail, err := api.FetchAll(context.Background(), "005930", 200)
	require.NoError(t, err)
	require.NotNil(t, detail.InvestorEstimate)
	assert.True(t, detail.InvestorEstimate.IsEstimated)
	assert.Equal(t, int64(55000), detail.InvestorEstimate.ForeignNet)
	assert.Equal(t, int32(1), atomic.LoadInt32(&estimateCalls))

	// 장외: 호출 자체가 없다
	apiClosed := newTestDetailAPI(t, server, false)
	detail2, err := apiClosed.FetchAll(context.Background(), "005930", 200)
	require.NoError(t, err)
	assert.Nil(t, detail2.InvestorEstimate)
	assert.Equal(t, int32(1), atomic.LoadInt32(&estimateCalls))
}

func TestSummarizeFlows(t *testing.T) {
	trend := &InvestorTrend{}
	for i := 0; i < 25; i++ {
		trend.Daily = append(trend.Daily, InvestorDay{
			Date:           "20260828",
			ForeignNet:     100,
			InstitutionNet: -50,
			IndividualNet:  10,
		})
	}

	sum := SummarizeFlows(trend)
	require.NotNil(t, sum)
	assert.Equal(t, int64(500), sum.Sum5d.ForeignNet)
	assert.Equal(t, int64(-250), sum.Sum5d.InstitutionNet)
	assert.Equal(t, int64(2000), sum.Sum20d.ForeignNet)

	assert.Nil(t, SummarizeFlows(nil))
	assert.Nil(t, SummarizeFlows(&InvestorTrend{}))
}

func TestFetchManyContinuesOnStockFailure(t *testing.T) {
	server := detailTestServer(t, nil)
	api := newTestDetailAPI(t, server, false)

	details, err := api.FetchMany(context.Background(), []string{"005930", "000660"}, 200)
	require.NoError(t, err)
	assert.Len(t, details, 2)
}
