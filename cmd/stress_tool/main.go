package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"entitlement_ledger/internal/pkg/config"
	"entitlement_ledger/pkg/response"
	"entitlement_ledger/pkg/utils"
)

// 压测：大量用户并发兑换同一批券码，成功次数必须恰好等于券码数量
var (
	baseURL    = flag.String("url", "http://localhost:8080", "server base URL")
	totalUsers = flag.Int("users", 2000, "concurrent users")
	codeCount  = flag.Int("codes", 5, "coupon codes to race for")
	plan       = flag.String("plan", "trial", "plan granted by the codes")
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

func main() {
	flag.Parse()

	// 管理员令牌使用服务端同一份 JWT 配置签发
	config.LoadConfig()
	token, _, err := utils.GenerateToken("stress-tool", utils.RoleAdmin)
	if err != nil {
		log.Fatalf("签发管理员令牌失败: %v", err)
	}

	// 1. 生成券码 (管理员操作)
	codes, err := generateCodes(token)
	if err != nil {
		log.Fatalf("生成券码失败: %v", err)
	}

	fmt.Printf("开始压测：模拟 %d 个用户抢 %d 个券码...\n", *totalUsers, len(codes))
	time.Sleep(time.Second)

	// 2. 并发兑换，每个用户随机落到一个券码上
	var wg sync.WaitGroup
	var success, used, limited, failed int64
	start := time.Now()

	for i := 1; i <= *totalUsers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			switch redeem(fmt.Sprintf("stress-%d", n), codes[n%len(codes)]) {
			case response.CodeSuccess:
				atomic.AddInt64(&success, 1)
			case response.ErrCouponUsed:
				atomic.AddInt64(&used, 1)
			case response.ErrTooManyRequests:
				atomic.AddInt64(&limited, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)
	qps := float64(*totalUsers) / duration.Seconds()

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", *totalUsers)
	fmt.Printf("QPS: %.2f\n", qps)
	fmt.Printf("兑换成功: %d (预期: %d)\n", success, len(codes))
	fmt.Printf("券码已被使用: %d\n", used)
	fmt.Printf("被限流: %d (rate_limit.requests 需要调大)\n", limited)
	fmt.Printf("其它失败: %d\n", failed)
	fmt.Println("--------------------------------------------------")
	if success > int64(len(codes)) {
		log.Fatalf("兑换成功次数超过券码数量，存在重复兑换")
	}
}

func generateCodes(token string) ([]string, error) {
	payload := map[string]interface{}{
		"plan":   *plan,
		"count":  *codeCount,
		"origin": "stress",
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, *baseURL+"/admin/coupons/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var result struct {
		Code int `json:"code"`
		Data []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w: %s", err, respBody)
	}
	if result.Code != response.CodeSuccess || len(result.Data) == 0 {
		return nil, fmt.Errorf("生成券码响应异常: %s", respBody)
	}
	codes := make([]string, 0, len(result.Data))
	for _, c := range result.Data {
		codes = append(codes, c.Code)
	}
	return codes, nil
}

// redeem 以用户本人的令牌兑换，返回业务码，网络错误返回 -1
func redeem(userID, code string) int {
	token, _, err := utils.GenerateToken(userID, utils.RoleUser)
	if err != nil {
		return -1
	}
	body, _ := json.Marshal(map[string]string{"userId": userID, "code": code})
	req, err := http.NewRequest(http.MethodPost, *baseURL+"/coupons/redeem", bytes.NewReader(body))
	if err != nil {
		return -1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return -1
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return -1
	}

	var result struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return -1
	}
	return result.Code
}
