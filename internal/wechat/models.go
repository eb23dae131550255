package wechat

// baseResp carries the platform's application-level status. A non-zero Ret
// means the request was rejected (expired token, rate limit) even though the
// HTTP layer returned 200.
type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

type searchResponse struct {
	BaseResp baseResp       `json:"base_resp"`
	List     []searchResult `json:"list"`
}

type searchResult struct {
	Nickname string `json:"nickname"`
	FakeID   string `json:"fakeid"`
}

type listResponse struct {
	BaseResp   baseResp   `json:"base_resp"`
	AppMsgList []ListItem `json:"app_msg_list"`
}

// AccountResult is one fuzzy-search hit for an official account.
type AccountResult struct {
	Nickname string
	FakeID   string
}

// ListItem is one entry of an account's content listing, newest first.
type ListItem struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	UpdateTime int64  `json:"update_time"` // unix seconds
	Digest     string `json:"digest"`
}
