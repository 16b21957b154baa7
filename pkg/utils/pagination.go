package utils

// Pagination 分页请求参数
type Pagination struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

// PageResult 分页响应结果
type PageResult struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// GetPageOffset 计算分页偏移量
func (p *Pagination) GetPageOffset() (int, int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return (p.Page - 1) * p.Limit, p.Limit
}

// ListRange 转换为列表区间 [start, stop]（闭区间，LRANGE 语义）
func (p *Pagination) ListRange() (int64, int64) {
	offset, limit := p.GetPageOffset()
	return int64(offset), int64(offset + limit - 1)
}
