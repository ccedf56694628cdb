package wxmp

import "encoding/json"

type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

// listResponse is the appmsg list_ex payload.
type listResponse struct {
	BaseResp   baseResp      `json:"base_resp"`
	AppMsgCnt  int           `json:"app_msg_cnt"`
	AppMsgList []articleItem `json:"app_msg_list"`
}

type articleItem struct {
	AID        string  `json:"aid"`
	AppMsgID   int64   `json:"appmsgid"`
	ItemIdx    int     `json:"itemidx"`
	Title      string  `json:"title"`
	Link       string  `json:"link"`
	Digest     string  `json:"digest"`
	Cover      string  `json:"cover"`
	CreateTime int64   `json:"create_time"`
	UpdateTime int64   `json:"update_time"`
	TagIDs     tagList `json:"tagid"`
}

// searchResponse is the searchbiz payload.
type searchResponse struct {
	BaseResp baseResp      `json:"base_resp"`
	List     []accountInfo `json:"list"`
	Total    int           `json:"total"`
}

type accountInfo struct {
	FakeID   string `json:"fakeid"`
	Nickname string `json:"nickname"`
	Alias    string `json:"alias"`
}

// tagList accepts tag ids sent either as strings or numbers.
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return err
		}
		out = append(out, n.String())
	}
	*t = out
	return nil
}
