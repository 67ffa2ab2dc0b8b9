// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pai-kb-go/internal/config"
	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，并按向量维度创建分块索引。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// indexMapping 生成分块索引的 mapping。向量使用 cosine 相似度，检索时据此换算距离。
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"knowledge_base_id": { "type": "keyword" },
				"file_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功 (dims=%d)", indexName, dims)
	return nil
}

// BuildBulkBody 把分块文档编码成 _bulk 接口需要的 NDJSON。
func BuildBulkBody(docs []model.EsChunkDocument) ([]byte, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": doc.ChunkID}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return nil, err
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// BulkIndex 批量写入分块文档，任一条目失败即返回错误。
func BulkIndex(ctx context.Context, indexName string, docs []model.EsChunkDocument) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := BuildBulkBody(docs)
	if err != nil {
		return err
	}
	res, err := ESClient.Bulk(bytes.NewReader(body),
		ESClient.Bulk.WithContext(ctx),
		ESClient.Bulk.WithIndex(indexName),
		ESClient.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk 请求失败: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return err
	}
	if bulkResp.Errors {
		return errors.New("bulk 写入存在失败条目")
	}
	return nil
}

// DeleteByTerm 删除 field 等于 value 的所有文档。
func DeleteByTerm(ctx context.Context, indexName, field, value string) error {
	query := map[string]any{
		"query": map[string]any{"term": map[string]any{field: value}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}
	res, err := ESClient.DeleteByQuery([]string{indexName}, bytes.NewReader(body),
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete_by_query 失败: %s", res.String())
	}
	return nil
}

// BuildKNNQuery 构造限定在若干知识库内的 kNN 查询。
func BuildKNNQuery(kbIDs []string, vector []float32, k int) map[string]any {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	return map[string]any{
		"size": k,
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter": map[string]any{
				"terms": map[string]any{"knowledge_base_id": kbIDs},
			},
		},
		"_source": []string{"chunk_id", "knowledge_base_id", "text_content"},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				ChunkID         string `json:"chunk_id"`
				KnowledgeBaseID string `json:"knowledge_base_id"`
				TextContent     string `json:"text_content"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// DecodeKNNHits 解析 kNN 响应。cosine 相似度下 _score = (1+cos)/2，
// 换算成余弦距离 1-cos 即 2-2*_score，与 pgvector 的 <=> 一致。
func DecodeKNNHits(r io.Reader) ([]model.ChunkHit, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, err
	}
	hits := make([]model.ChunkHit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, model.ChunkHit{
			ID:              h.Source.ChunkID,
			KnowledgeBaseID: h.Source.KnowledgeBaseID,
			Content:         h.Source.TextContent,
			Distance:        2 - 2*h.Score,
		})
	}
	return hits, nil
}

// KNNSearch 在指定知识库范围内执行向量检索。
func KNNSearch(ctx context.Context, indexName string, kbIDs []string, vector []float32, k int) ([]model.ChunkHit, error) {
	body, err := json.Marshal(BuildKNNQuery(kbIDs, vector, k))
	if err != nil {
		return nil, err
	}
	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("kNN 检索失败: %s", res.String())
	}
	return DecodeKNNHits(res.Body)
}
