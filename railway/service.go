// Package railway 封装上游铁路数据接口的 URL 构造与参数校验，
// 实际请求交给带 Key 轮换的 Fetcher 完成。
package railway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"rail-gateway/core"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultIRCTCBaseURL = "https://irctc1.p.rapidapi.com"
	DefaultPNRBaseURL   = "https://irctc-indian-railway-pnr-status.p.rapidapi.com"
)

// Fetcher 带 Key 轮换的上游请求 (*core.RotatingClient 实现)
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) core.Outcome
}

// ValidationError 输入不合法，未发出任何上游请求
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError 判断错误是否为参数校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Service 铁路数据查询
type Service struct {
	fetcher   Fetcher
	irctcBase string
	pnrBase   string
	validate  *validator.Validate
}

// NewService 空的 base URL 使用默认上游地址
func NewService(fetcher Fetcher, irctcBase, pnrBase string) *Service {
	if irctcBase == "" {
		irctcBase = DefaultIRCTCBaseURL
	}
	if pnrBase == "" {
		pnrBase = DefaultPNRBaseURL
	}
	return &Service{
		fetcher:   fetcher,
		irctcBase: strings.TrimRight(irctcBase, "/"),
		pnrBase:   strings.TrimRight(pnrBase, "/"),
		validate:  validator.New(),
	}
}

type searchTrainInput struct {
	Query string `validate:"required,max=64"`
}

type liveStatusInput struct {
	TrainNo  string `validate:"required,number,min=4,max=6"`
	StartDay int    `validate:"gte=0,lte=4"`
}

type stationInput struct {
	StationCode string `validate:"required,alpha,min=1,max=5"`
}

type liveStationInput struct {
	From  string `validate:"required,alpha,min=1,max=5"`
	To    string `validate:"omitempty,alpha,min=1,max=5"`
	Hours int    `validate:"oneof=2 4 6 8"`
}

type fareInput struct {
	TrainNo string `validate:"required,number,min=4,max=6"`
	From    string `validate:"required,alpha,min=1,max=5"`
	To      string `validate:"required,alpha,min=1,max=5"`
}

type seatInput struct {
	ClassType string `validate:"required,oneof=1A 2A 3A SL 2S CC EC 3E"`
	From      string `validate:"required,alpha,min=1,max=5"`
	Quota     string `validate:"required,oneof=GN TQ LD PT SS HP"`
	To        string `validate:"required,alpha,min=1,max=5"`
	TrainNo   string `validate:"required,number,min=4,max=6"`
}

type pnrInput struct {
	PNR string `validate:"required,number,len=10"`
}

// SearchTrain 按车次号或车名模糊查询
func (s *Service) SearchTrain(ctx context.Context, query string) (core.Outcome, error) {
	in := searchTrainInput{Query: strings.TrimSpace(query)}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.get(ctx, s.irctcBase+"/api/v1/searchTrain", url.Values{"query": {in.Query}}), nil
}

// LiveTrainStatus 车次实时运行状态，startDay 为 0 (今天) 到 4 (四天前发车)
func (s *Service) LiveTrainStatus(ctx context.Context, trainNo string, startDay int) (core.Outcome, error) {
	in := liveStatusInput{TrainNo: strings.TrimSpace(trainNo), StartDay: startDay}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.get(ctx, s.irctcBase+"/api/v1/liveTrainStatus", url.Values{
		"trainNo":  {in.TrainNo},
		"startDay": {strconv.Itoa(in.StartDay)},
	}), nil
}

// TrainsByStation 经停某站的全部车次
func (s *Service) TrainsByStation(ctx context.Context, stationCode string) (core.Outcome, error) {
	in := stationInput{StationCode: normalizeStation(stationCode)}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.get(ctx, s.irctcBase+"/api/v3/getTrainsByStation", url.Values{"stationCode": {in.StationCode}}), nil
}

// LiveStation 未来 hours 小时内到发某站的车次，to 可为空
func (s *Service) LiveStation(ctx context.Context, from, to string, hours int) (core.Outcome, error) {
	in := liveStationInput{From: normalizeStation(from), To: normalizeStation(to), Hours: hours}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	q := url.Values{
		"fromStationCode": {in.From},
		"hours":           {strconv.Itoa(in.Hours)},
	}
	if in.To != "" {
		q.Set("toStationCode", in.To)
	}
	return s.get(ctx, s.irctcBase+"/api/v3/getLiveStation", q), nil
}

// Fare 区间票价
func (s *Service) Fare(ctx context.Context, trainNo, from, to string) (core.Outcome, error) {
	in := fareInput{TrainNo: strings.TrimSpace(trainNo), From: normalizeStation(from), To: normalizeStation(to)}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.get(ctx, s.irctcBase+"/api/v2/getFare", url.Values{
		"trainNo":         {in.TrainNo},
		"fromStationCode": {in.From},
		"toStationCode":   {in.To},
	}), nil
}

// SeatAvailability 余票查询，quota 为空时按 GN (普通) 处理
func (s *Service) SeatAvailability(ctx context.Context, classType, from, quota, to, trainNo string) (core.Outcome, error) {
	if strings.TrimSpace(quota) == "" {
		quota = "GN"
	}
	in := seatInput{
		ClassType: strings.ToUpper(strings.TrimSpace(classType)),
		From:      normalizeStation(from),
		Quota:     strings.ToUpper(strings.TrimSpace(quota)),
		To:        normalizeStation(to),
		TrainNo:   strings.TrimSpace(trainNo),
	}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.get(ctx, s.irctcBase+"/api/v2/checkSeatAvailability", url.Values{
		"classType":       {in.ClassType},
		"fromStationCode": {in.From},
		"quota":           {in.Quota},
		"toStationCode":   {in.To},
		"trainNo":         {in.TrainNo},
	}), nil
}

// PNRStatus PNR 必须是 10 位数字
func (s *Service) PNRStatus(ctx context.Context, pnr string) (core.Outcome, error) {
	in := pnrInput{PNR: strings.TrimSpace(pnr)}
	if err := s.check(in); err != nil {
		return core.Outcome{}, err
	}
	return s.fetcher.Fetch(ctx, s.pnrBase+"/getPNRStatus/"+url.PathEscape(in.PNR)), nil
}

func (s *Service) get(ctx context.Context, endpoint string, query url.Values) core.Outcome {
	return s.fetcher.Fetch(ctx, endpoint+"?"+query.Encode())
}

// check 把 validator 的错误转换成 ValidationError (只取第一个字段)
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ValidationError{Field: fe.Field(), Message: msg}
	}
	return &ValidationError{Field: "input", Message: err.Error()}
}

func normalizeStation(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
